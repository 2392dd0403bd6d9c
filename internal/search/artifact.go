package search

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"jobx-market/internal/model"
	"jobx-market/internal/runstore"
)

var artifactHeader = []string{
	"site", "title", "company", "location", "job_url",
	"min_amount", "max_amount", "interval", "search_term",
	"role_id", "role_name", "center_code", "center_name", "zip_code", "market", "region",
}

// ArtifactPath is where the raw rows of a task are stored inside an output directory.
func ArtifactPath(outputDir, locationCode, roleID string) string {
	return filepath.Join(outputDir, fmt.Sprintf("raw_jobs_%s_%s.csv", locationCode, roleID))
}

// WriteArtifact stores the table as CSV, stamping every row with the task it came from.
func WriteArtifact(path string, task model.Task, t *Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(artifactHeader); err != nil {
		return fmt.Errorf("write artifact header %s: %w", path, err)
	}
	if t != nil {
		for _, p := range t.Postings {
			row := []string{
				p.Site, p.Title, p.Company, p.Location, p.URL,
				formatAmount(p.MinAmount), formatAmount(p.MaxAmount), p.Interval, p.SearchTerm,
				task.RoleID, task.RoleName, task.LocationCode, task.LocationName, task.ZipCode, task.MarketName, task.RegionName,
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write artifact row %s: %w", path, err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush artifact %s: %w", path, err)
	}
	return runstore.WriteBytes(path, buf.Bytes())
}

// ReadArtifact loads a CSV artifact.
func ReadArtifact(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer f.Close()
	return DecodeCSV(f, path)
}

// DecodeCSV parses job rows from CSV. Columns are matched by header name, so input
// with a subset or superset of the artifact columns decodes too.
func DecodeCSV(r io.Reader, source string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("parse CSV header %s: %w", source, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	t := &Table{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse CSV %s line %d: %w", source, line, err)
		}
		minAmount, err := parseAmount(field(rec, "min_amount"))
		if err != nil {
			return nil, fmt.Errorf("parse CSV %s line %d: min_amount: %w", source, line, err)
		}
		maxAmount, err := parseAmount(field(rec, "max_amount"))
		if err != nil {
			return nil, fmt.Errorf("parse CSV %s line %d: max_amount: %w", source, line, err)
		}
		t.Postings = append(t.Postings, Posting{
			Site:       field(rec, "site"),
			Title:      field(rec, "title"),
			Company:    field(rec, "company"),
			Location:   field(rec, "location"),
			URL:        field(rec, "job_url"),
			MinAmount:  minAmount,
			MaxAmount:  maxAmount,
			Interval:   field(rec, "interval"),
			SearchTerm: field(rec, "search_term"),
		})
	}
	return t, nil
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseAmount(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const DefaultCommand = "jobx"

var defaultSites = []string{"linkedin", "indeed"}

// ExecSearcher runs the jobx scraper CLI once per search term and merges the CSV it
// prints on stdout.
type ExecSearcher struct {
	Command   string
	Sites     []string
	ExtraArgs []string
	Logger    *zap.Logger
}

type DependencyReport struct {
	ScraperFound bool   `json:"scraper_found"`
	ScraperPath  string `json:"scraper_path,omitempty"`
	Command      string `json:"command"`
}

func (s *ExecSearcher) command() string {
	if c := strings.TrimSpace(s.Command); c != "" {
		return c
	}
	return DefaultCommand
}

func (s *ExecSearcher) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *ExecSearcher) DependencyStatus() DependencyReport {
	report := DependencyReport{Command: s.command()}
	if path, err := exec.LookPath(report.Command); err == nil {
		report.ScraperFound = true
		report.ScraperPath = path
	}
	return report
}

func (s *ExecSearcher) CheckDependencies() error {
	if report := s.DependencyStatus(); !report.ScraperFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", report.Command)
	}
	return nil
}

// Search queries every term. A term that fails is logged and skipped; the search
// fails only when no term succeeded.
func (s *ExecSearcher) Search(ctx context.Context, q Query) (*Table, error) {
	terms := q.SearchTerms
	if len(terms) == 0 {
		return nil, fmt.Errorf("no search terms for role %s", q.Task.RoleID)
	}
	if strings.TrimSpace(q.Location) == "" {
		return nil, fmt.Errorf("search location is required")
	}

	merged := &Table{}
	var lastErr error
	succeeded := 0
	for _, term := range terms {
		t, err := s.searchTerm(ctx, term, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger().Warn("search term failed",
				zap.String("task", q.Task.Key()),
				zap.String("term", term),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		succeeded++
		merged.Append(t, term)
	}
	if succeeded == 0 {
		return nil, lastErr
	}
	merged.Dedupe()
	return merged, nil
}

func (s *ExecSearcher) args(term string, q Query) []string {
	sites := s.Sites
	if len(sites) == 0 {
		sites = defaultSites
	}
	args := []string{"-s"}
	args = append(args, sites...)
	args = append(args, "-q", term, "-l", q.Location)
	if q.ResultsWanted > 0 {
		args = append(args, "-n", strconv.Itoa(q.ResultsWanted))
	}
	return append(args, s.ExtraArgs...)
}

func (s *ExecSearcher) searchTerm(ctx context.Context, term string, q Query) (*Table, error) {
	args := s.args(term, q)
	s.logger().Debug("running scraper",
		zap.String("command", s.command()),
		zap.Strings("args", args),
		zap.Int("radius_miles", q.RadiusMiles),
	)

	cmd := exec.CommandContext(ctx, s.command(), args...)
	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: 8192}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", s.command(), err)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", s.command(), err, msg)
	}
	return DecodeCSV(&stdout, s.command()+" stdout")
}

// limitedBuffer keeps the first max bytes written to it and drops the rest.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

var _ io.Writer = (*limitedBuffer)(nil)

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remain := b.max - b.buf.Len(); remain > 0 {
		if len(p) > remain {
			b.buf.Write(p[:remain])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

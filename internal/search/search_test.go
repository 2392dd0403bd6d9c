package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobx-market/internal/model"
)

func amount(v float64) *float64 { return &v }

func sampleTask() model.Task {
	return model.Task{
		RoleID:       "rbt",
		RoleName:     "RBT",
		LocationCode: "HOU-001",
		LocationName: "Houston Center",
		ZipCode:      "77001",
		MarketName:   "Houston",
		RegionName:   "Texas",
		SearchTerms:  []string{"behavior technician"},
	}
}

func TestTableDedupeKeepsFirstByURL(t *testing.T) {
	table := &Table{Postings: []Posting{
		{URL: "https://example.com/1", Title: "first"},
		{URL: "https://example.com/2"},
		{URL: "https://example.com/1", Title: "second"},
		{Title: "no url"},
		{Title: "no url again"},
	}}
	table.Dedupe()

	require.Equal(t, 4, table.Len())
	assert.Equal(t, "first", table.Postings[0].Title)
}

func TestTableSalaryCount(t *testing.T) {
	table := &Table{Postings: []Posting{
		{MinAmount: amount(20)},
		{MaxAmount: amount(30)},
		{MinAmount: amount(20), MaxAmount: amount(30)},
		{},
	}}
	assert.Equal(t, 3, table.SalaryCount())

	var empty *Table
	assert.Zero(t, empty.Len())
	assert.Zero(t, empty.SalaryCount())
}

func TestArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := ArtifactPath(dir, "HOU-001", "rbt")
	assert.Equal(t, filepath.Join(dir, "raw_jobs_HOU-001_rbt.csv"), path)

	in := &Table{Postings: []Posting{
		{Site: "indeed", Title: "RBT, \"Part time\"", URL: "https://example.com/1", MinAmount: amount(19.5), MaxAmount: amount(24), Interval: "hourly"},
		{Site: "linkedin", Title: "RBT", URL: "https://example.com/2"},
	}}
	require.NoError(t, WriteArtifact(path, sampleTask(), in))

	out, err := ReadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, 1, out.SalaryCount())
	assert.Equal(t, "RBT, \"Part time\"", out.Postings[0].Title)
	assert.InDelta(t, 19.5, *out.Postings[0].MinAmount, 0.0001)
	assert.Nil(t, out.Postings[1].MaxAmount)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "HOU-001")
}

func TestReadArtifactAcceptsColumnSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte("title,min_amount,max_amount\nJob 1,50000.0,70000.0\nJob 2,,\n"), 0o644))

	table, err := ReadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 1, table.SalaryCount())
}

func TestReadArtifactRejectsBadAmount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte("title,min_amount\nJob 1,lots\n"), 0o644))

	_, err := ReadArtifact(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadArtifactMissingFile(t *testing.T) {
	_, err := ReadArtifact(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func installFakeScraper(t *testing.T, script string) {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, DefaultCommand), []byte(script), 0o755))
	t.Setenv("PATH", bin+":"+os.Getenv("PATH"))
}

func TestExecSearcherMergesTermsAndDedupes(t *testing.T) {
	installFakeScraper(t, `#!/usr/bin/env bash
set -euo pipefail
term=""
while [ $# -gt 0 ]; do
  case "$1" in
    -q) term="$2"; shift 2 ;;
    *) shift ;;
  esac
done
echo "site,title,job_url,min_amount,max_amount"
echo "indeed,$term,https://example.com/shared,20,25"
echo "linkedin,$term,https://example.com/$term,,"
`)

	s := &ExecSearcher{}
	require.True(t, s.DependencyStatus().ScraperFound)
	require.NoError(t, s.CheckDependencies())

	table, err := s.Search(context.Background(), Query{
		Task:          sampleTask(),
		SearchTerms:   []string{"rbt", "behavior tech"},
		Location:      "Houston, TX 77001",
		ResultsWanted: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, 1, table.SalaryCount())
	assert.Equal(t, "rbt", table.Postings[0].SearchTerm)
}

func TestExecSearcherSurfacesStderrWhenAllTermsFail(t *testing.T) {
	installFakeScraper(t, `#!/usr/bin/env bash
echo "Error: HTTP 429 Too Many Requests" >&2
exit 1
`)

	s := &ExecSearcher{}
	_, err := s.Search(context.Background(), Query{
		Task:        sampleTask(),
		SearchTerms: []string{"rbt"},
		Location:    "77001",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "429"), err.Error())
}

func TestExecSearcherRequiresTerms(t *testing.T) {
	s := &ExecSearcher{Command: "definitely-not-installed-jobx"}
	_, err := s.Search(context.Background(), Query{Task: sampleTask(), Location: "77001"})
	require.Error(t, err)
	assert.False(t, s.DependencyStatus().ScraperFound)
	assert.Error(t, s.CheckDependencies())
}

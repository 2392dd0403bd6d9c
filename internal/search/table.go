// Package search defines the boundary to the job-board scrapers: the query a task
// issues, the tabular result it gets back, and the per-task artifact on disk.
package search

import (
	"context"
	"strings"

	"jobx-market/internal/model"
)

// Query is what one search attempt asks the scraper for.
type Query struct {
	Task          model.Task
	SearchTerms   []string
	Location      string
	RadiusMiles   int
	ResultsWanted int
}

// Searcher runs one search. An error or a panic counts as a failed attempt.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Table, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, q Query) (*Table, error)

func (f SearcherFunc) Search(ctx context.Context, q Query) (*Table, error) {
	return f(ctx, q)
}

type Posting struct {
	Site       string   `json:"site"`
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	Location   string   `json:"location"`
	URL        string   `json:"job_url"`
	MinAmount  *float64 `json:"min_amount"`
	MaxAmount  *float64 `json:"max_amount"`
	Interval   string   `json:"interval"`
	SearchTerm string   `json:"search_term"`
}

// HasSalary reports whether either bound of the pay range is known.
func (p Posting) HasSalary() bool {
	return p.MinAmount != nil || p.MaxAmount != nil
}

type Table struct {
	Postings []Posting
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Postings)
}

func (t *Table) SalaryCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, p := range t.Postings {
		if p.HasSalary() {
			n++
		}
	}
	return n
}

// Append adds rows from other, tagging untagged rows with term.
func (t *Table) Append(other *Table, term string) {
	if other == nil {
		return
	}
	for _, p := range other.Postings {
		if p.SearchTerm == "" {
			p.SearchTerm = term
		}
		t.Postings = append(t.Postings, p)
	}
}

// Dedupe keeps the first posting for each URL. Postings without a URL are kept.
func (t *Table) Dedupe() {
	if t == nil {
		return
	}
	seen := make(map[string]struct{}, len(t.Postings))
	out := t.Postings[:0]
	for _, p := range t.Postings {
		key := strings.TrimSpace(p.URL)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, p)
	}
	t.Postings = out
}

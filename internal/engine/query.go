package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// Sort orders for List.
const (
	SortRecent = "recent"
	SortName   = "name"
	SortDate   = "date"
)

// Query selects and orders submissions for the admin listing.
type Query struct {
	Sort    string // SortRecent (default), SortName or SortDate
	Search  string
	Page    int // 1-based
	PerPage int
}

// Listing is one page of the admin listing.
type Listing struct {
	Submissions []schema.Summary `json:"submissions"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
	PerPage     int              `json:"perPage"`
	Sort        string           `json:"sort"`
}

// List loads every submission, filters by q.Search, sorts and paginates.
// Total counts the filtered set.
func (r *Repository) List(ctx context.Context, q Query) (Listing, error) {
	subs, err := r.LoadAll(ctx)
	if err != nil {
		return Listing{}, err
	}

	if q.Search != "" {
		needle := strings.ToLower(strings.TrimSpace(q.Search))
		kept := subs[:0]
		for _, s := range subs {
			if matches(&s, needle) {
				kept = append(kept, s)
			}
		}
		subs = kept
	}

	switch q.Sort {
	case SortName:
		sort.SliceStable(subs, func(i, j int) bool {
			return strings.ToLower(subs[i].Name) < strings.ToLower(subs[j].Name)
		})
	case SortDate:
		// ISO dates compare lexically; empty dates sort last.
		sort.SliceStable(subs, func(i, j int) bool {
			return subs[i].Date > subs[j].Date
		})
	default:
		q.Sort = SortRecent
		// LoadAll already returns most recent first.
	}

	if q.PerPage <= 0 {
		q.PerPage = r.opts.DefaultPageSize
	}
	q.PerPage = min(q.PerPage, r.opts.MaxPageSize)
	if q.Page < 1 {
		q.Page = 1
	}

	out := Listing{Submissions: []schema.Summary{}, Total: len(subs), Page: q.Page, PerPage: q.PerPage, Sort: q.Sort}
	start := (q.Page - 1) * q.PerPage
	if start >= len(subs) {
		return out, nil
	}
	for _, s := range subs[start:min(start+q.PerPage, len(subs))] {
		out.Submissions = append(out.Submissions, s.Summarize())
	}
	return out, nil
}

func matches(s *schema.Submission, needle string) bool {
	for _, field := range []string{s.Name, s.Email, s.Phone, s.Officers} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, item := range s.Items {
		if strings.Contains(strings.ToLower(item.BudgetLine), needle) {
			return true
		}
	}
	return false
}

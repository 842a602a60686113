package storage

import (
	"cmp"
	"slices"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
)

// applyFilter orders jobs by submission time and returns the requested page
// together with the number of jobs matching the filter.
func applyFilter(jobs []*core.Job, filter core.JobFilter) ([]*core.Job, int) {
	matched := jobs[:0]
	for _, job := range jobs {
		if filter.Phase != nil && job.Phase != *filter.Phase {
			continue
		}
		matched = append(matched, job)
	}
	slices.SortFunc(matched, func(a, b *core.Job) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total
}

// Package merge combines per-worker bar tables into one ordered table and
// trims it to the requested window.
package merge

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/bar"
)

// Merge k-way merges tables that are each sorted by timestamp. Equal
// timestamps keep the order of the tables in the argument list, then their
// order within a table, so the result is what a stable sort of the
// concatenation would produce. Cost is O(n log k).
func Merge(tables ...[]bar.Bar) []bar.Bar {
	n := 0
	h := make(cursorHeap, 0, len(tables))
	for i, t := range tables {
		n += len(t)
		if len(t) > 0 {
			h = append(h, &cursor{rows: t, table: i})
		}
	}
	if len(h) == 0 {
		return []bar.Bar{}
	}
	if len(h) == 1 {
		out := make([]bar.Bar, n)
		copy(out, h[0].rows)
		return out
	}

	heap.Init(&h)
	out := make([]bar.Bar, 0, n)
	for h.Len() > 0 {
		c := h[0]
		out = append(out, c.rows[c.pos])
		c.pos++
		if c.pos == len(c.rows) {
			heap.Pop(&h)
			continue
		}
		heap.Fix(&h, 0)
	}
	return out
}

// Trim keeps rows with from < Time < to. Both boundary instants are
// excluded. It fails with MergeFilterError when the window is empty or
// inverted.
func Trim(rows []bar.Bar, from, to time.Time) ([]bar.Bar, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, apperror.New(apperror.MergeFilterError,
			fmt.Sprintf("invalid boundary window (%s, %s)", from.Format(time.RFC3339), to.Format(time.RFC3339)))
	}

	out := make([]bar.Bar, 0, len(rows))
	for _, r := range rows {
		if r.Time.After(from) && r.Time.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Sorted reports whether rows are non-decreasing by timestamp.
func Sorted(rows []bar.Bar) bool {
	for i := 1; i < len(rows); i++ {
		if rows[i].Time.Before(rows[i-1].Time) {
			return false
		}
	}
	return true
}

type cursor struct {
	rows  []bar.Bar
	pos   int
	table int
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].rows[h[i].pos].Time, h[j].rows[h[j].pos].Time
	if a.Equal(b) {
		return h[i].table < h[j].table
	}
	return a.Before(b)
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return c
}

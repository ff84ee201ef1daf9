package scraper

import (
	"slices"
	"testing"
	"time"
)

func TestSplitYears(t *testing.T) {
	tests := []struct {
		name      string
		fromYear  int
		yearCount int
		workers   int
		want      [][]int
	}{
		{
			name:      "even split",
			fromYear:  2001,
			yearCount: 2,
			workers:   2,
			want:      [][]int{{2001}, {2002}},
		},
		{
			name:      "remainder goes to first workers",
			fromYear:  2000,
			yearCount: 7,
			workers:   3,
			want:      [][]int{{2000, 2001, 2002}, {2003, 2004}, {2005, 2006}},
		},
		{
			name:      "fewer years than workers",
			fromYear:  2010,
			yearCount: 2,
			workers:   4,
			want:      [][]int{{2010}, {2011}, {}, {}},
		},
		{
			name:      "single worker",
			fromYear:  2005,
			yearCount: 3,
			workers:   1,
			want:      [][]int{{2005, 2006, 2007}},
		},
		{
			name:      "zero years",
			fromYear:  2005,
			yearCount: 0,
			workers:   2,
			want:      [][]int{{}, {}},
		},
		{
			name:      "zero workers returns nil",
			fromYear:  2005,
			yearCount: 3,
			workers:   0,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitYears(tt.fromYear, tt.yearCount, tt.workers)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !slices.Equal(got[i], tt.want[i]) {
					t.Errorf("split[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitYears_Properties(t *testing.T) {
	for workers := 1; workers <= 8; workers++ {
		for count := 0; count <= 30; count++ {
			split := SplitYears(1999, count, workers)
			if len(split) != workers {
				t.Fatalf("w=%d n=%d: got %d groups", workers, count, len(split))
			}

			var flat []int
			minLen, maxLen := count+1, -1
			for _, g := range split {
				flat = append(flat, g...)
				minLen = min(minLen, len(g))
				maxLen = max(maxLen, len(g))
			}
			if maxLen-minLen > 1 {
				t.Errorf("w=%d n=%d: unbalanced sizes %d..%d", workers, count, minLen, maxLen)
			}
			if len(flat) != count {
				t.Fatalf("w=%d n=%d: covered %d years", workers, count, len(flat))
			}
			for i, y := range flat {
				if y != 1999+i {
					t.Fatalf("w=%d n=%d: year %d at position %d", workers, count, y, i)
				}
			}

			// Same inputs, same output.
			again := SplitYears(1999, count, workers)
			for i := range split {
				if !slices.Equal(split[i], again[i]) {
					t.Fatalf("w=%d n=%d: non-deterministic split", workers, count)
				}
			}
		}
	}
}

func TestYearSpan(t *testing.T) {
	d := func(y, m, day int) time.Time { return time.Date(y, time.Month(m), day, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		from, to  time.Time
		wantFirst int
		wantCount int
	}{
		{"two years", d(2001, 1, 1), d(2002, 12, 31), 2001, 2},
		{"same year", d(2005, 3, 1), d(2005, 4, 1), 2005, 1},
		{"inverted", d(2005, 3, 1), d(2004, 4, 1), 2005, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, count := YearSpan(tt.from, tt.to)
			if first != tt.wantFirst || count != tt.wantCount {
				t.Errorf("got (%d, %d), want (%d, %d)", first, count, tt.wantFirst, tt.wantCount)
			}
		})
	}
}

func TestAssign(t *testing.T) {
	as := Assign("EURUSD", [][]int{{2001, 2002}, {}})
	if len(as) != 2 {
		t.Fatalf("len = %d", len(as))
	}
	if !slices.Equal(as[0].Years(), []int{2001, 2002}) || as[0][1].Symbol != "EURUSD" {
		t.Errorf("unexpected first assignment %+v", as[0])
	}
	if len(as[1]) != 0 {
		t.Errorf("expected empty second assignment, got %+v", as[1])
	}
}

package scraper

import "time"

// Unit is the smallest schedulable piece of work: one symbol for one year.
type Unit struct {
	Symbol string
	Year   int
}

// Assignment is the ordered run of contiguous years given to one worker.
type Assignment []Unit

// Years returns the calendar years covered by the assignment.
func (a Assignment) Years() []int {
	years := make([]int, len(a))
	for i, u := range a {
		years[i] = u.Year
	}
	return years
}

// YearSpan returns the first year and the number of calendar years touched
// by [from, to]. It returns a zero count when from is after to.
func YearSpan(from, to time.Time) (first, count int) {
	if from.After(to) {
		return from.Year(), 0
	}
	return from.Year(), to.Year() - from.Year() + 1
}

// SplitYears partitions yearCount consecutive years starting at fromYear
// into exactly workers contiguous groups. The first yearCount%workers groups
// get one extra year; when there are fewer years than workers the trailing
// groups are empty. It returns nil when workers < 1.
func SplitYears(fromYear, yearCount, workers int) [][]int {
	if workers < 1 || yearCount < 0 {
		return nil
	}

	base := yearCount / workers
	rest := yearCount % workers

	split := make([][]int, workers)
	cur := fromYear
	for i := range workers {
		n := base
		if i < rest {
			n++
		}
		years := make([]int, n)
		for j := range n {
			years[j] = cur + j
		}
		cur += n
		split[i] = years
	}
	return split
}

// Assign turns a year split into per-worker assignments for symbol.
func Assign(symbol string, split [][]int) []Assignment {
	out := make([]Assignment, len(split))
	for i, years := range split {
		a := make(Assignment, len(years))
		for j, y := range years {
			a[j] = Unit{Symbol: symbol, Year: y}
		}
		out[i] = a
	}
	return out
}

// Package bar defines minute-bar records and parses the histdata.com
// generic ASCII M1 format.
package bar

import "time"

// Record is one line of source data as read, with its naive timestamp
// already placed in the source's time zone.
type Record struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Bar is the canonical OHLCV row: UTC timestamp at microsecond precision.
type Bar struct {
	Time   time.Time `json:"datetime"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Canonical converts a record to a Bar.
func (r Record) Canonical() Bar {
	return Bar{
		Time:   r.Time.UTC().Truncate(time.Microsecond),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// Micros returns the timestamp as microseconds since the Unix epoch.
func (b Bar) Micros() int64 { return b.Time.UnixMicro() }

// Less orders bars by timestamp.
func Less(a, b Bar) bool { return a.Time.Before(b.Time) }

// Compare orders bars by timestamp for slices.SortStableFunc and friends.
func Compare(a, b Bar) int { return a.Time.Compare(b.Time) }

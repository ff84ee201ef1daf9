package bar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

// TimestampLayout is the fixed source timestamp format, e.g. "20010102 230100".
const TimestampLayout = "20060102 150405"

const (
	fieldSep   = ';'
	fieldCount = 6
)

// Parse reads every line of r. Any line that does not coerce to a Record
// fails the whole payload with a ParseError naming the line. Blank lines are
// skipped.
func Parse(r io.Reader, loc *time.Location) ([]Record, error) {
	if loc == nil {
		loc = time.UTC
	}

	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if text == "" {
			continue
		}
		rec, err := ParseLine(text, loc)
		if err != nil {
			return nil, apperror.Wrap(apperror.ParseError, fmt.Sprintf("line %d", line), err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, apperror.Wrap(apperror.ParseError, "read payload", err)
	}
	return records, nil
}

// ParseFile opens path and parses it with Parse.
func ParseFile(path string, loc *time.Location) ([]Record, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the session's own working directory
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f, loc)
}

// ParseLine parses one "YYYYMMDD HHMMSS;open;high;low;close;volume" line.
// Whitespace inside numeric fields is ignored.
func ParseLine(line string, loc *time.Location) (Record, error) {
	fields := strings.Split(line, string(fieldSep))
	if len(fields) != fieldCount {
		return Record{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}

	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(fields[0]), loc)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp %q: %w", fields[0], err)
	}

	var prices [4]float64
	for i := range prices {
		v, err := strconv.ParseFloat(stripSpaces(fields[i+1]), 64)
		if err != nil {
			return Record{}, fmt.Errorf("field %d: %w", i+2, err)
		}
		prices[i] = v
	}

	vol, err := strconv.ParseInt(stripSpaces(fields[5]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("volume: %w", err)
	}

	return Record{
		Time:   ts,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: vol,
	}, nil
}

func stripSpaces(s string) string {
	if !strings.ContainsAny(s, " \t") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
}

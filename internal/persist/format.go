package persist

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/bar"
)

// Format selects the on-disk serialization of the merged table.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// TimeLayout is how CSV output renders timestamps.
const TimeLayout = "2006-01-02T15:04:05.000000"

// ParseFormat validates a format selector.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", apperror.New(apperror.ConfigError, fmt.Sprintf("unsupported format %q, expected csv or parquet", s))
	}
}

// Ext returns the file extension for the format.
func (f Format) Ext() string { return string(f) }

// ContentType returns the MIME type written to the destination.
func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

// Encoder serializes a table.
type Encoder interface {
	Encode(w io.Writer, rows []bar.Bar) error
}

// EncoderFor returns the encoder for f.
func EncoderFor(f Format) (Encoder, error) {
	switch f {
	case FormatCSV:
		return CSVEncoder{}, nil
	case FormatParquet:
		return ParquetEncoder{}, nil
	default:
		_, err := ParseFormat(string(f))
		return nil, err
	}
}

var csvHeader = []string{"datetime", "open", "high", "low", "close", "volume"}

// CSVEncoder writes a header line followed by one line per bar.
type CSVEncoder struct{}

func (CSVEncoder) Encode(w io.Writer, rows []bar.Bar) error {
	bw := bufio.NewWriterSize(w, 256*1024)
	cw := csv.NewWriter(bw)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	rec := make([]string, len(csvHeader))
	for _, r := range rows {
		rec[0] = r.Time.UTC().Format(TimeLayout)
		rec[1] = formatFloat(r.Open)
		rec[2] = formatFloat(r.High)
		rec[3] = formatFloat(r.Low)
		rec[4] = formatFloat(r.Close)
		rec[5] = strconv.FormatInt(r.Volume, 10)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type parquetRow struct {
	Datetime int64   `parquet:"name=datetime, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Open     float64 `parquet:"name=open, type=DOUBLE, encoding=PLAIN"`
	High     float64 `parquet:"name=high, type=DOUBLE, encoding=PLAIN"`
	Low      float64 `parquet:"name=low, type=DOUBLE, encoding=PLAIN"`
	Close    float64 `parquet:"name=close, type=DOUBLE, encoding=PLAIN"`
	Volume   int64   `parquet:"name=volume, type=INT64"`
}

// ParquetEncoder writes a single-file parquet table with microsecond
// timestamps.
type ParquetEncoder struct {
	// Parallel is the number of column encoders. Default: 1.
	Parallel int64
}

func (e ParquetEncoder) Encode(w io.Writer, rows []bar.Bar) error {
	np := e.Parallel
	if np <= 0 {
		np = 1
	}

	pw, err := writer.NewParquetWriterFromWriter(w, new(parquetRow), np)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		if err := pw.Write(parquetRow{
			Datetime: r.Micros(),
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
		}); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet: %w", err)
	}
	return nil
}

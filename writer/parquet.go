package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"restbridge/models"
)

// CandleRecord is one parquet row.
type CandleRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Period    string  `parquet:"name=period, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartDate int64   `parquet:"name=start_date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	AskOpen   float64 `parquet:"name=ask_open, type=DOUBLE"`
	AskHigh   float64 `parquet:"name=ask_high, type=DOUBLE"`
	AskLow    float64 `parquet:"name=ask_low, type=DOUBLE"`
	AskClose  float64 `parquet:"name=ask_close, type=DOUBLE"`
	BidOpen   float64 `parquet:"name=bid_open, type=DOUBLE"`
	BidHigh   float64 `parquet:"name=bid_high, type=DOUBLE"`
	BidLow    float64 `parquet:"name=bid_low, type=DOUBLE"`
	BidClose  float64 `parquet:"name=bid_close, type=DOUBLE"`
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (f *memoryFile) Create(string) (source.ParquetFile, error) { return f, nil }
func (f *memoryFile) Open(string) (source.ParquetFile, error)   { return f, nil }

// Seek only reports the current size; the parquet writer never rewinds.
func (f *memoryFile) Seek(int64, int) (int64, error) { return int64(f.buf.Len()), nil }

func (f *memoryFile) Read(b []byte) (int, error)  { return f.buf.Read(b) }
func (f *memoryFile) Write(b []byte) (int, error) { return f.buf.Write(b) }
func (f *memoryFile) Close() error                { return nil }
func (f *memoryFile) Bytes() []byte               { return f.buf.Bytes() }

func codec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encode renders candles as a parquet file in memory.
func encode(candles []models.Candle, compression string) ([]byte, error) {
	f := newMemoryFile()
	pw, err := writer.NewParquetWriter(f, new(CandleRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = codec(compression)

	for _, c := range candles {
		rec := CandleRecord{
			Symbol:    c.Symbol,
			Period:    c.Period,
			StartDate: c.StartDate.UnixMilli(),
			AskOpen:   c.AskOpen,
			AskHigh:   c.AskHigh,
			AskLow:    c.AskLow,
			AskClose:  c.AskClose,
			BidOpen:   c.BidOpen,
			BidHigh:   c.BidHigh,
			BidLow:    c.BidLow,
			BidClose:  c.BidClose,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return f.Bytes(), nil
}

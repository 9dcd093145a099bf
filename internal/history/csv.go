package history

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
)

// Header is the column layout of sampled rows.
var Header = []string{
	"block", "timestamp", "fixed_rate",
	"available_ft", "slippage_ft_10", "slippage_ft_100", "slippage_ft_1000", "slippage_ft_10000",
	"available_vt", "slippage_vt_10", "slippage_vt_100", "slippage_vt_1000", "slippage_vt_10000",
}

// CSVWriter appends rows to a file, writing the header only when the file
// starts empty.
type CSVWriter struct {
	file *os.File
	w    *csv.Writer
}

// OpenCSV opens path for appending.
func OpenCSV(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	cw := &CSVWriter{file: file, w: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := cw.w.Write(Header); err != nil {
			file.Close()
			return nil, err
		}
	}
	return cw, nil
}

// Write appends one row and flushes it.
func (c *CSVWriter) Write(row Row) error {
	record := []string{
		strconv.FormatUint(row.Block, 10),
		strconv.FormatUint(row.Timestamp, 10),
		row.FixedRate.StringFixed(6),
	}
	for _, side := range []Side{row.FT, row.VT} {
		record = append(record, side.Available.String())
		for _, s := range side.Slippage {
			record = append(record, s.StringFixed(6))
		}
	}
	if err := c.w.Write(record); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

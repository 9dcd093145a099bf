package positions

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"irs-keeper/internal/irs"
)

// File reads positions from a CSV or JSON file. CSV files carry a header
// row naming owner, marginEngine, tickLower and tickUpper in any order.
type File struct {
	Path string
}

// Load implements Source.
func (f File) Load(ctx context.Context) ([]irs.Position, error) {
	if f.Path == "" {
		return nil, errors.New("positions file path is required")
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".json":
		return decodeJSON(fh)
	case ".csv":
		return decodeCSV(fh)
	default:
		return nil, fmt.Errorf("unsupported positions file %q: want .csv or .json", f.Path)
	}
}

func decodeJSON(r io.Reader) ([]irs.Position, error) {
	var records []record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode positions json: %w", err)
	}
	out := make([]irs.Position, 0, len(records))
	for i, rec := range records {
		p, err := rec.position()
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

var csvColumns = []string{"owner", "marginEngine", "tickLower", "tickUpper"}

func decodeCSV(r io.Reader) ([]irs.Position, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read positions header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	cols := make([]int, len(csvColumns))
	for i, name := range csvColumns {
		col, ok := index[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("positions csv missing column %q", name)
		}
		cols[i] = col
	}

	var out []irs.Position
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read positions csv: %w", err)
		}
		lower, err := parseTick("tickLower", row[cols[2]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		upper, err := parseTick("tickUpper", row[cols[3]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := record{Owner: row[cols[0]], MarginEngine: row[cols[1]], TickLower: lower, TickUpper: upper}.position()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

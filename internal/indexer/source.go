package indexer

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type format int

const (
	formatUnknown format = iota
	formatCSV
	formatJSONL
)

// sourceKind splits a file name into its row format and compression suffix.
func sourceKind(name string) (format, string) {
	lower := strings.ToLower(name)
	compression := ""
	for _, ext := range []string{".gz", ".zst", ".lz4"} {
		if strings.HasSuffix(lower, ext) {
			compression = ext
			lower = strings.TrimSuffix(lower, ext)
			break
		}
	}
	switch filepath.Ext(lower) {
	case ".csv":
		return formatCSV, compression
	case ".jsonl", ".ndjson":
		return formatJSONL, compression
	}
	return formatUnknown, compression
}

// listSources returns the supported files directly under dir, sorted by name.
func listSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if f, _ := sourceKind(e.Name()); f != formatUnknown {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openSource opens path and layers the decompressor its suffix calls for.
func openSource(path string) (io.ReadCloser, format, error) {
	f, compression := sourceKind(filepath.Base(path))
	if f == formatUnknown {
		return nil, f, fmt.Errorf("unsupported source file %s", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, f, fmt.Errorf("opening %s: %w", path, err)
	}
	buffered := bufio.NewReaderSize(file, 256<<10)

	switch compression {
	case ".gz":
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			file.Close()
			return nil, f, fmt.Errorf("gzip header in %s: %w", path, err)
		}
		return &multiCloser{Reader: gz, closers: []io.Closer{file, gz}}, f, nil
	case ".zst":
		dec, err := zstd.NewReader(buffered)
		if err != nil {
			file.Close()
			return nil, f, fmt.Errorf("zstd reader for %s: %w", path, err)
		}
		rc := dec.IOReadCloser()
		return &multiCloser{Reader: rc, closers: []io.Closer{file, rc}}, f, nil
	case ".lz4":
		return &multiCloser{Reader: lz4.NewReader(buffered), closers: []io.Closer{file}}, f, nil
	}
	return &multiCloser{Reader: buffered, closers: []io.Closer{file}}, f, nil
}

// readRows streams rows from r, calling fn with each row's columns. Values
// from CSV are strings; JSON values keep their decoded types with numbers as
// json.Number. Malformed rows are counted, not fatal.
func readRows(r io.Reader, f format, fn func(row map[string]any) error) (skipped int64, err error) {
	switch f {
	case formatCSV:
		return readCSV(r, fn)
	case formatJSONL:
		return readJSONL(r, fn)
	}
	return 0, fmt.Errorf("unsupported format %d", f)
}

func readCSV(r io.Reader, fn func(row map[string]any) error) (int64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading csv header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.TrimSpace(h)
	}

	var skipped int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			skipped++
			continue
		}
		if err != nil {
			return skipped, fmt.Errorf("reading csv: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if i < len(rec) && col != "" {
				row[col] = rec[i]
			}
		}
		if err := fn(row); err != nil {
			return skipped, err
		}
	}
}

func readJSONL(r io.Reader, fn func(row map[string]any) error) (int64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	var skipped int64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var row map[string]any
		if err := dec.Decode(&row); err != nil || row == nil {
			skipped++
			continue
		}
		if err := fn(row); err != nil {
			return skipped, err
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("reading jsonl: %w", err)
	}
	return skipped, nil
}

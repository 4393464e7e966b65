package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/banshee-data/soil.report/internal/fsutil"
)

// Read parses a delimited text table with a header row. A zero delim is
// sniffed from the header line among ',', ';' and '\t'. Short rows are
// padded with nulls; rows longer than the header are an error.
func Read(r io.Reader, delim rune) (*Table, error) {
	br := bufio.NewReader(r)
	if delim == 0 {
		peek, _ := br.Peek(4096)
		delim = sniffDelimiter(string(peek))
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty table")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	t := New(header...)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("line %d has %d fields, header has %d", line, len(rec), len(header))
		}
		vals := make([]Value, len(rec))
		for i, raw := range rec {
			vals[i] = Parse(raw)
		}
		if err := t.AppendRow(vals...); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return t, nil
}

// ReadOptions tune how ReadFileWith decodes a source table.
type ReadOptions struct {
	// Encoding is the character set of the file as a WHATWG label, e.g.
	// "windows-1252" or "latin1". Empty means UTF-8.
	Encoding string
	// NAValues are extra spellings of a missing value, e.g. "ND".
	NAValues []string
}

// ReadFile reads a UTF-8 table from fsys. Files ending in .tsv or .txt are
// tab separated; anything else is sniffed.
func ReadFile(fsys fsutil.FileSystem, path string) (*Table, error) {
	return ReadFileWith(fsys, path, ReadOptions{})
}

// ReadFileWith is ReadFile with a source encoding and extra NA spellings.
func ReadFileWith(fsys fsutil.FileSystem, path string, opts ReadOptions) (*Table, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if opts.Encoding != "" {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding %q: %w", path, opts.Encoding, err)
		}
		r = enc.NewDecoder().Reader(f)
	}

	var delim rune
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt":
		delim = '\t'
	}
	t, err := Read(r, delim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.nullify(opts.NAValues)
	return t, nil
}

// nullify turns cells spelled like one of tokens into nulls.
func (t *Table) nullify(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	na := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		na[strings.TrimSpace(tok)] = true
	}
	for _, col := range t.cols {
		for i, v := range col {
			if !v.Null && na[v.S] {
				col[i] = NA
			}
		}
	}
}

// Write renders the table with a header row. Nulls are written as empty
// cells.
func Write(w io.Writer, t *Table, delim rune) error {
	cw := csv.NewWriter(w)
	if delim != 0 {
		cw.Comma = delim
	}
	if err := cw.Write(t.header); err != nil {
		return err
	}
	rec := make([]string, len(t.header))
	for r := 0; r < t.Len(); r++ {
		for i := range t.cols {
			rec[i] = t.cols[i][r].String()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table to path on fsys as comma separated values.
func WriteFile(fsys fsutil.FileSystem, path string, t *Table) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, t, ','); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// sniffDelimiter picks the candidate that occurs most often on the first
// line, defaulting to comma.
func sniffDelimiter(sample string) rune {
	first := sample
	if i := strings.IndexByte(sample, '\n'); i >= 0 {
		first = sample[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

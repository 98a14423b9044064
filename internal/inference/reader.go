package inference

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// recordError marks a malformed record the reader could skip past. The
// stream stays usable after one is returned.
type recordError struct {
	msg string
}

func (e *recordError) Error() string { return e.msg }

func malformed(format string, args ...any) error {
	return &recordError{msg: fmt.Sprintf(format, args...)}
}

// isMalformed reports whether err is a recoverable per-record failure.
func isMalformed(err error) bool {
	var re *recordError
	return errors.As(err, &re)
}

// recordSource streams one upload as string records under a fixed header.
// Next returns io.EOF at the end and a *recordError for malformed records
// that can be skipped.
type recordSource interface {
	Headers() []string
	Next() ([]string, error)
	Close() error
}

// openSource builds the streaming reader for the spool's format. Each call
// starts a fresh pass over the data.
func openSource(spool *Spool) (recordSource, error) {
	switch spool.Format() {
	case FormatDelimited:
		return newDelimitedSource(spool)
	case FormatWorkbook:
		return newWorkbookSource(spool)
	case FormatLines:
		return newLinesSource(spool)
	default:
		return nil, fmt.Errorf("unsupported format %q", spool.Format())
	}
}

// sanitizeHeaders maps raw header labels to identifier-safe column names,
// deduplicating collisions with numeric suffixes.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")

		var cleaned strings.Builder
		for _, r := range name {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
				cleaned.WriteRune(r)
			}
		}
		name = cleaned.String()
		if name == "" || (name[0] >= '0' && name[0] <= '9') {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

// delimitedSource streams CSV records through encoding/csv without reading
// the whole file.
type delimitedSource struct {
	rc      io.ReadCloser
	reader  *csv.Reader
	headers []string
	width   int
}

func newDelimitedSource(spool *Spool) (recordSource, error) {
	rc, err := spool.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open spool: %w", err)
	}

	buffered := bufio.NewReader(rc)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(buffered)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headerRow, err := reader.Read()
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("no header row detected: %w", err)
	}

	return &delimitedSource{
		rc:      rc,
		reader:  reader,
		headers: sanitizeHeaders(headerRow),
		width:   len(headerRow),
	}, nil
}

func (s *delimitedSource) Headers() []string { return s.headers }

func (s *delimitedSource) Next() ([]string, error) {
	record, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, malformed("line %d: %v", parseErr.Line, parseErr.Err)
		}
		return nil, err
	}
	if len(record) != s.width {
		return nil, malformed("wrong field count: got %d, want %d", len(record), s.width)
	}
	return record, nil
}

func (s *delimitedSource) Close() error { return s.rc.Close() }

// workbookSource streams the first sheet of an xlsx workbook row by row via
// the excelize rows iterator.
type workbookSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	width   int
}

func newWorkbookSource(spool *Spool) (recordSource, error) {
	f, err := excelize.OpenFile(spool.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, errors.New("no header row detected")
	}
	headerRow, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	if len(headerRow) == 0 {
		rows.Close()
		f.Close()
		return nil, errors.New("no header row detected")
	}

	return &workbookSource{
		file:    f,
		rows:    rows,
		headers: sanitizeHeaders(headerRow),
		width:   len(headerRow),
	}, nil
}

func (s *workbookSource) Headers() []string { return s.headers }

func (s *workbookSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	record, err := s.rows.Columns()
	if err != nil {
		return nil, malformed("unreadable row: %v", err)
	}
	if len(record) > s.width {
		return nil, malformed("wrong field count: got %d, want %d", len(record), s.width)
	}
	// Trailing empty cells are omitted by the iterator; pad them back.
	for len(record) < s.width {
		record = append(record, "")
	}
	return record, nil
}

func (s *workbookSource) Close() error {
	s.rows.Close()
	return s.file.Close()
}

// linesSource streams line-delimited JSON objects. The first object fixes the
// column order; later objects may omit keys (null) but unknown keys are
// ignored.
type linesSource struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	headers []string
	keys    []string
	line    int
}

func newLinesSource(spool *Spool) (recordSource, error) {
	rc, err := spool.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open spool: %w", err)
	}

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var keys []string
	var line int
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		keys, err = orderedObjectKeys(text)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		break
	}
	if keys == nil {
		rc.Close()
		return nil, errors.New("no records found in file")
	}

	// Re-open so the first record is delivered by Next like any other.
	rc.Close()
	rc, err = spool.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to reopen spool: %w", err)
	}
	scanner = bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &linesSource{
		rc:      rc,
		scanner: scanner,
		headers: sanitizeHeaders(keys),
		keys:    keys,
	}, nil
}

func (s *linesSource) Headers() []string { return s.headers }

func (s *linesSource) Next() ([]string, error) {
	for s.scanner.Scan() {
		s.line++
		text := bytes.TrimSpace(s.scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(text, &obj); err != nil {
			return nil, malformed("line %d: invalid json: %v", s.line, err)
		}

		record := make([]string, len(s.keys))
		for i, key := range s.keys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			value, err := scalarString(raw)
			if err != nil {
				return nil, malformed("line %d: field %s: %v", s.line, key, err)
			}
			record[i] = value
		}
		return record, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *linesSource) Close() error { return s.rc.Close() }

// orderedObjectKeys walks the token stream of one JSON object so key order is
// preserved; map decoding would randomize it.
func orderedObjectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("record is not a json object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("invalid json object key")
		}
		keys = append(keys, key)

		// Skip the value, whatever shape it has.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
	}
	return keys, nil
}

// scalarString renders a JSON value as the string form the inference pipeline
// consumes. Null becomes the empty string, which the pipeline treats as null.
func scalarString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return string(trimmed), nil
	default:
		return string(trimmed), nil
	}
}

package inference

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies how an upload's records are laid out.
type Format string

const (
	// FormatDelimited is comma-delimited text with a header row.
	FormatDelimited Format = "csv"
	// FormatWorkbook is a columnar binary spreadsheet (xlsx).
	FormatWorkbook Format = "xlsx"
	// FormatLines is line-delimited JSON objects.
	FormatLines Format = "jsonl"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Spool holds an upload on disk so both the inference pass and the validation
// pass can re-stream it without ever materializing the payload in memory.
type Spool struct {
	path   string
	name   string
	size   int64
	format Format
}

// NewSpool copies r to a temp file, enforcing limit bytes, and resolves the
// record format from the file name extension with content sniffing as the
// authority when the extension is absent or unknown.
func NewSpool(name string, r io.Reader, limit int64) (*Spool, error) {
	f, err := os.CreateTemp("", "datapulse-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to finalize spool file: %w", err)
	}
	if written > limit {
		os.Remove(f.Name())
		return nil, fmt.Errorf("upload exceeds %d byte limit", limit)
	}
	if written == 0 {
		os.Remove(f.Name())
		return nil, fmt.Errorf("file is empty")
	}

	s := &Spool{path: f.Name(), name: name, size: written}
	format, err := s.resolveFormat()
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	s.format = format
	return s, nil
}

// Name returns the original upload file name.
func (s *Spool) Name() string { return s.name }

// Size returns the spooled byte count.
func (s *Spool) Size() int64 { return s.size }

// Format returns the resolved record format.
func (s *Spool) Format() Format { return s.format }

// Path exposes the on-disk location for readers that need file access.
func (s *Spool) Path() string { return s.path }

// Open returns a fresh reader positioned at the start of the upload.
func (s *Spool) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Close removes the spooled file.
func (s *Spool) Close() error {
	return os.Remove(s.path)
}

func (s *Spool) resolveFormat() (Format, error) {
	switch strings.ToLower(filepath.Ext(s.name)) {
	case ".csv", ".tsv", ".txt":
		return FormatDelimited, nil
	case ".xlsx":
		return FormatWorkbook, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatLines, nil
	}
	return s.sniffFormat()
}

// sniffFormat inspects the leading bytes: xlsx files are zip containers
// ("PK"), JSON lines start with an object or array, anything else that looks
// like text is treated as delimited.
func (s *Spool) sniffFormat() (Format, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to open spool for sniffing: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to sniff upload: %w", err)
	}
	head = head[:n]
	head = bytes.TrimPrefix(head, byteOrderMark)

	if bytes.HasPrefix(head, []byte("PK")) {
		return FormatWorkbook, nil
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatLines, nil
	}
	if len(trimmed) > 0 {
		return FormatDelimited, nil
	}
	return "", fmt.Errorf("unsupported file format for %s", s.name)
}

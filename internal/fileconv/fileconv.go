// Package fileconv implements the file-conversion capability the
// orchestrator uses to pre-read a referenced file for the S2/S3 paths of
// §4.10: "bytes in → text out, bounded by a timeout". Plain text files are
// read directly; spreadsheet and document formats are handed to pluggable
// external converters. If nothing succeeds, the file is treated as
// unreferenced rather than surfacing a hard error — file-read failures
// degrade conservatively per §7.
package fileconv

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Converter turns the bytes of a non-text file into text, or reports that
// it cannot handle the given extension/content. Implementations are
// expected to be pure functions of their input bytes; the Reader applies
// the timeout.
type Converter interface {
	// CanConvert reports whether this converter handles the given file
	// extension (lowercase, including the leading dot, e.g. ".xlsx").
	CanConvert(ext string) bool

	// Convert returns the extracted text, or an error if conversion failed.
	Convert(ctx context.Context, data []byte) (string, error)
}

// Reader implements try_read_referenced_file(message, workspace) → option<text>.
type Reader struct {
	converters []Converter
	timeout    time.Duration
	maxBytes   int64
}

// defaultMaxBytes bounds how much of a referenced file is read, to keep a
// pathological multi-gigabyte attachment from blocking a checkpoint.
const defaultMaxBytes = 5 << 20 // 5 MiB

// New returns a Reader with the given converters tried in order, each
// within the given per-file timeout. A zero timeout means no deadline.
func New(timeout time.Duration, converters ...Converter) *Reader {
	return &Reader{converters: converters, timeout: timeout, maxBytes: defaultMaxBytes}
}

// TryReadReferencedFile resolves path against workspace and returns its
// text content, or ("", false) if the file does not exist, cannot be
// converted, or conversion exceeds the timeout. It never returns an error:
// every failure mode here degrades to "unreferenced" per §7.
func (r *Reader) TryReadReferencedFile(ctx context.Context, path, workspace string) (string, bool) {
	if path == "" {
		return "", false
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(workspace, path)
	}
	full = filepath.Clean(full)

	if workspace != "" && !withinWorkspace(full, workspace) {
		return "", false
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", false
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ext := strings.ToLower(filepath.Ext(full))
	if isPlainText(ext) {
		text, err := r.readPlainText(full)
		if err != nil {
			return "", false
		}
		return text, true
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", false
	}

	for _, conv := range r.converters {
		if !conv.CanConvert(ext) {
			continue
		}
		text, err := r.convertWithDeadline(ctx, conv, data)
		if err == nil {
			return text, true
		}
	}
	return "", false
}

func (r *Reader) convertWithDeadline(ctx context.Context, conv Converter, data []byte) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := conv.Convert(ctx, data)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.text, res.err
	}
}

func (r *Reader) readPlainText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	limited := io.LimitReader(f, r.maxBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var plainTextExts = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true,
	".yaml": true, ".yml": true, ".log": true, ".tsv": true, "": true,
}

func isPlainText(ext string) bool {
	return plainTextExts[ext]
}

func withinWorkspace(full, workspace string) bool {
	workspace = filepath.Clean(workspace)
	rel, err := filepath.Rel(workspace, full)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

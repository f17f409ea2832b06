// Package memory implements the Memory Manager (C8): two memory files
// (MEMORY_FULL / MEMORY_CLEAN) plus two memory directories for dated
// entries, and the end-of-session projection that derives the clean view
// from the full view by filtering guard-marker blocks and redacting
// residual entities (§4.8).
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"privacygate/internal/extract"
	"privacygate/internal/redact"
)

const (
	fullFileName  = "MEMORY-FULL.md"
	cleanFileName = "MEMORY.md"
	fullDirName   = "memory-full"
	cleanDirName  = "memory"
)

// guardMarkers are matched case-insensitively against each line; a match
// drops the surrounding block until the next blank line or markdown
// header, per §4.8.
var guardMarkers = []string{"[guard agent]", "guard:", "private context:"}

// Manager implements write_memory, read_memory, sync_full_to_clean, and
// initialize_directories against a workspace rooted at workspaceDir.
type Manager struct {
	workspaceDir string
	extractor    *extract.Extractor // nil disables model-backed extraction during sync
}

// New returns a Manager rooted at workspaceDir. extractor may be nil; sync
// then falls back to rule-based redaction only.
func New(workspaceDir string, extractor *extract.Extractor) *Manager {
	return &Manager{workspaceDir: workspaceDir, extractor: extractor}
}

// InitializeDirectories creates the full and clean memory directories if
// they do not already exist.
func (m *Manager) InitializeDirectories() error {
	for _, dir := range []string{m.fullDir(), m.cleanDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create memory directory %s: %w", dir, err)
		}
	}
	return nil
}

func (m *Manager) fullDir() string  { return filepath.Join(m.workspaceDir, fullDirName) }
func (m *Manager) cleanDir() string { return filepath.Join(m.workspaceDir, cleanDirName) }

func (m *Manager) fullFile() string  { return filepath.Join(m.workspaceDir, fullFileName) }
func (m *Manager) cleanFile() string { return filepath.Join(m.workspaceDir, cleanFileName) }

// Opts selects between the persistent memory file and a dated daily entry
// under the corresponding directory.
type Opts struct {
	// Date, if non-zero, targets the dated entry "YYYY-MM-DD.md" under the
	// memory directory instead of the top-level memory file.
	Date time.Time
}

func (m *Manager) pathFor(isCloud bool, opts Opts) string {
	if !opts.Date.IsZero() {
		dir := m.fullDir()
		if isCloud {
			dir = m.cleanDir()
		}
		return filepath.Join(dir, opts.Date.Format("2006-01-02")+".md")
	}
	if isCloud {
		return m.cleanFile()
	}
	return m.fullFile()
}

// WriteMemory implements write_memory(content, is_cloud, opts): appends
// content to the selected file, creating it (and any parent directory) if
// needed.
func (m *Manager) WriteMemory(content string, isCloud bool, opts Opts) error {
	path := m.pathFor(isCloud, opts)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create memory parent dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("write memory content: %w", err)
	}
	return nil
}

// ReadMemory implements read_memory(is_cloud, opts): returns the full
// content of the selected file, or "" if it does not exist.
func (m *Manager) ReadMemory(isCloud bool, opts Opts) (string, error) {
	path := m.pathFor(isCloud, opts)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read memory file: %w", err)
	}
	return string(data), nil
}

// SyncFullToClean implements sync_full_to_clean(): read the full memory;
// remove guard-marker blocks; redact residual entities; write the result to
// the clean memory file (overwriting any prior content, since the clean
// file is wholly derived from the full file at sync time).
func (m *Manager) SyncFullToClean(ctx context.Context) error {
	full, err := os.ReadFile(m.fullFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read full memory: %w", err)
	}

	filtered := filterGuardBlocks(string(full))

	var result redact.Result
	if m.extractor != nil {
		entities := m.extractor.ExtractPII(ctx, filtered)
		result = redact.Redact(filtered, entities)
	} else {
		result = redact.RedactFallback(filtered)
	}

	if err := os.MkdirAll(filepath.Dir(m.cleanFile()), 0o755); err != nil {
		return fmt.Errorf("create clean memory dir: %w", err)
	}
	if err := os.WriteFile(m.cleanFile(), []byte(result.Content), 0o644); err != nil {
		return fmt.Errorf("write clean memory: %w", err)
	}
	return nil
}

// filterGuardBlocks removes any line containing a guard marker
// (case-insensitive), dropping the surrounding block until the next blank
// line or markdown header, per §4.8. A guard-marked line with no such
// boundary anywhere ahead of it (it runs straight to the end of the
// content) is treated as a one-line block on its own, so an unrelated line
// that merely happens to follow it without a blank/header separator is not
// swept away with it.
func filterGuardBlocks(content string) string {
	trailingNewline := strings.HasSuffix(content, "\n")
	body := content
	if trailingNewline {
		body = body[:len(body)-1]
	}
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		if containsGuardMarker(lines[i]) {
			end := -1
			for k := i + 1; k < len(lines); k++ {
				if isBlockBoundary(lines[k]) {
					end = k
					break
				}
			}
			if end == -1 {
				i++
			} else {
				i = end
			}
			continue
		}
		out = append(out, lines[i])
		i++
	}

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result
}

func containsGuardMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range guardMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isBlockBoundary(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

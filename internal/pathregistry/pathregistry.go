// Package pathregistry holds the mutable, runtime-editable path/tool lists
// the Rule Detector and File-Access Guard consult: the S2/S3 tool name and
// path lists of §4.1, and the protected-root list of §4.9. Changes made at
// runtime (e.g. via the management API) are persisted to disk with an
// atomic temp-file-then-rename write so they survive process restarts,
// mirroring the teacher's AI-domain registry.
package pathregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"privacygate/internal/logger"
)

// Registry is a named, persisted set of strings (domains, tool names, or
// path prefixes, depending on which list it backs).
type Registry struct {
	mu          sync.RWMutex
	items       map[string]bool
	persistPath string // empty = no persistence
	log         *logger.Logger
}

// New creates a registry seeded from defaults. If persistPath is non-empty
// and the file exists, its contents take precedence over the defaults (it
// represents runtime overrides accumulated across restarts).
func New(name string, defaults []string, persistPath string, log *logger.Logger) *Registry {
	r := &Registry{
		items:       make(map[string]bool, len(defaults)),
		persistPath: persistPath,
		log:         log,
	}

	if persistPath != "" {
		loaded, err := r.loadFromDisk()
		switch {
		case err == nil:
			for _, v := range loaded {
				r.items[v] = true
			}
			if log != nil {
				log.Infof("load", "%s: loaded %d entries from %s", name, len(loaded), persistPath)
			}
			return r
		case !os.IsNotExist(err):
			if log != nil {
				log.Warnf("load", "%s: failed to load %s: %v (using defaults)", name, persistPath, err)
			}
		}
	}

	for _, v := range defaults {
		r.items[v] = true
	}
	return r
}

// Has reports whether v is registered.
func (r *Registry) Has(v string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[v]
}

// Add registers v and persists the updated set.
func (r *Registry) Add(v string) {
	r.mu.Lock()
	r.items[v] = true
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// Remove unregisters v and persists the updated set.
func (r *Registry) Remove(v string) {
	r.mu.Lock()
	delete(r.items, v)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// All returns a sorted snapshot of the registered set.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.items))
	for v := range r.items {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) loadFromDisk() ([]string, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	return items, nil
}

// persist writes the given snapshot to disk atomically (temp file + rename).
// It does not hold r.mu, so it never blocks Has/All.
func (r *Registry) persist(items []string) {
	if r.persistPath == "" {
		return
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		if r.log != nil {
			r.log.Errorf("persist", "marshal error: %v", err)
		}
		return
	}

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".pathregistry-*.tmp")
	if err != nil {
		if r.log != nil {
			r.log.Errorf("persist", "create temp: %v", err)
		}
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck
		if r.log != nil {
			r.log.Errorf("persist", "write: %v", err)
		}
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		if r.log != nil {
			r.log.Errorf("persist", "close: %v", err)
		}
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		if r.log != nil {
			r.log.Errorf("persist", "rename: %v", err)
		}
	}
}

// Package guard implements the File-Access Guard (C9): it rejects tool
// calls that would let a remote-model-backed context read protected
// storage paths or files already supplied to the session in desensitized
// form, and otherwise defers to the aggregator's tier for the call (§4.9).
package guard

import (
	"fmt"
	"path/filepath"
	"strings"

	"privacygate/internal/pathregistry"
	"privacygate/internal/session"
	"privacygate/internal/tier"
)

// pathParamKeys mirrors the Rule Detector's recognized path-bearing
// parameter keys, so the guard and the detector agree on what counts as a
// "path value" within arbitrary tool parameters.
var pathParamKeys = map[string]bool{
	"path": true, "file": true, "filepath": true, "filename": true,
	"dir": true, "directory": true, "target": true, "source": true,
}

// readToolNames are the tool names subject to rule 2 of §4.9 (pre-read
// re-fetch blocking).
var readToolNames = map[string]bool{"read": true, "read_file": true, "cat": true}

// Decision is the outcome of guard_tool_call: either Allow or
// Block(reason).
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision          { return Decision{Allowed: true} }
func block(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Config names the protected roots derived from the storage layout (§4.9):
// the current agent's full-track session history, the full memory file,
// and the full memory directory. extraRoots is an optional runtime-editable
// registry (operators add/remove additional protected roots through the
// management API without a restart); it is consulted in addition to the
// fixed roots, never instead of them.
type Config struct {
	protectedRoots []string
	extraRoots     *pathregistry.Registry
}

// NewConfig derives the protected-root list for one agent from the
// persistence base directory and the memory workspace directory, per the
// storage layouts of internal/persist and internal/memory.
func NewConfig(persistBaseDir, memoryWorkspaceDir, agentID string) Config {
	roots := []string{
		filepath.Join(persistBaseDir, "agents", agentID, "sessions", "full"),
	}
	if memoryWorkspaceDir != "" {
		roots = append(roots,
			filepath.Join(memoryWorkspaceDir, "MEMORY-FULL.md"),
			filepath.Join(memoryWorkspaceDir, "memory-full"),
		)
	}
	return Config{protectedRoots: roots}
}

// WithExtraRoots attaches a runtime-editable registry of additional
// protected roots to cfg, returning the updated value.
func (cfg Config) WithExtraRoots(reg *pathregistry.Registry) Config {
	cfg.extraRoots = reg
	return cfg
}

func (cfg Config) allRoots() []string {
	if cfg.extraRoots == nil {
		return cfg.protectedRoots
	}
	return append(append([]string{}, cfg.protectedRoots...), cfg.extraRoots.All()...)
}

// GuardToolCall implements guard_tool_call(checkpoint, tool_name, params,
// session_key, config) → Allow | Block(reason). result is the aggregator's
// classification for this same call, used for rule 3's fallthrough.
func GuardToolCall(
	cp tier.Checkpoint,
	toolName string,
	params map[string]any,
	sessionKey string,
	cfg Config,
	sessions *session.Store,
	result tier.DetectionResult,
) Decision {
	paths := extractPathValues(params)

	if !session.IsGuardSession(sessionKey) {
		roots := cfg.allRoots()
		for _, p := range paths {
			if under, root := isUnderProtectedRoot(p, roots); under {
				return block(fmt.Sprintf("path %q is under a protected root (%s)", p, root))
			}
		}
	}

	if readToolNames[strings.ToLower(toolName)] {
		for _, p := range paths {
			if sessions.IsFilePreRead(sessionKey, p) {
				return block(fmt.Sprintf("%q was already supplied to this session in desensitized form; re-reading it is not permitted", p))
			}
		}
	}

	switch result.Tier {
	case tier.S3:
		return block("aggregated classification is S3 for this call")
	case tier.S2:
		sessions.MarkPrivate(sessionKey, tier.S2)
		return allow()
	default:
		return allow()
	}
}

func isUnderProtectedRoot(p string, roots []string) (bool, string) {
	clean := filepath.Clean(p)
	for _, root := range roots {
		cleanRoot := filepath.Clean(root)
		if clean == cleanRoot || strings.HasPrefix(clean, cleanRoot+string(filepath.Separator)) {
			return true, cleanRoot
		}
	}
	return false, ""
}

// extractPathValues recursively extracts path-like string values from
// params (maps only, not arrays, mirroring the Rule Detector's own
// traversal so the two packages agree on what a "path value" is).
func extractPathValues(params map[string]any) []string {
	var out []string
	var walk func(m map[string]any)
	walk = func(m map[string]any) {
		for k, v := range m {
			switch val := v.(type) {
			case string:
				if pathParamKeys[strings.ToLower(k)] {
					out = append(out, val)
				}
			case map[string]any:
				walk(val)
			}
		}
	}
	walk(params)
	return out
}

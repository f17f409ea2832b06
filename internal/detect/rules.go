// Package detect implements the Rule Detector (C1), Semantic Detector (C2),
// and Detector Aggregator (C3) of the classification pipeline: deterministic
// keyword/pattern/path matching, local-model classification, and the
// concurrent fan-out + supremum reduction that ties them together.
package detect

import (
	"os"
	"strings"

	"privacygate/internal/tier"
)

// forcedS3Extensions and forcedS3Substrings force a path to S3 regardless of
// configuration — private key material must never be desensitized down to
// S2, per §4.1.
var forcedS3Extensions = []string{".pem", ".key", ".p12", ".pfx"}
var forcedS3Substrings = []string{"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519"}

// pathParamKeys are the recognized parameter keys that carry filesystem
// paths when recursively scanning tool-call parameters.
var pathParamKeys = map[string]bool{
	"path": true, "file": true, "filepath": true, "filename": true,
	"dir": true, "directory": true, "target": true, "source": true,
}

// RuleConfig is the configuration surface the Rule Detector consults, per §6.
type RuleConfig struct {
	KeywordsS2 []string
	KeywordsS3 []string
	PatternsS2 []*CompiledPattern
	PatternsS3 []*CompiledPattern
	ToolsS2    ToolRule
	ToolsS3    ToolRule
}

// ToolRule names the tool names and path prefixes that trigger a tier.
type ToolRule struct {
	Tools []string
	Paths []string
}

// CompiledPattern pairs a regex with its original source for reason text.
type CompiledPattern struct {
	Source string
	Match  func(string) bool
}

// NewCompiledPattern wraps a regexp.MatchString-compatible matcher. Callers
// construct these from regexp.Regexp at configuration-load time; invalid
// regexes are rejected there, per §4.1's failure semantics (none at
// detection time).
func NewCompiledPattern(source string, match func(string) bool) *CompiledPattern {
	return &CompiledPattern{Source: source, Match: match}
}

// RuleDetector implements detect_by_rules(context, config) → DetectionResult.
type RuleDetector struct{}

// NewRuleDetector returns a stateless Rule Detector.
func NewRuleDetector() *RuleDetector {
	return &RuleDetector{}
}

// Kind identifies this detector for aggregation tie-breaking.
func (d *RuleDetector) Kind() tier.DetectorKind { return tier.Rule }

// Detect runs the deterministic rule pipeline: message keywords, message
// patterns, tool-name membership, tool-parameter path matching, and
// tool-result keyword scan, in that order, taking the supremum of all
// sub-check outcomes.
func (d *RuleDetector) Detect(ctx tier.DetectionContext, cfg RuleConfig) tier.DetectionResult {
	best := tier.S1
	reason := ""

	if t, r := matchKeywords(ctx.MessageText, cfg.KeywordsS3, cfg.KeywordsS2); t > best {
		best, reason = t, r
	}
	if t, r := matchPatterns(ctx.MessageText, cfg.PatternsS3, cfg.PatternsS2); t > best {
		best, reason = t, r
	}
	if t, r := matchTool(ctx.ToolName, cfg.ToolsS3.Tools, cfg.ToolsS2.Tools); t > best {
		best, reason = t, r
	}
	if t, r := matchToolPaths(ctx.ToolParams, cfg.ToolsS3, cfg.ToolsS2); t > best {
		best, reason = t, r
	}
	if t, r := matchKeywords(ctx.ToolResult, cfg.KeywordsS3, cfg.KeywordsS2); t > best {
		best, reason = t, r
	}

	if reason == "" {
		reason = "no rule matched"
	}
	return tier.DetectionResult{
		Tier:         best,
		Confidence:   1.0,
		Reason:       reason,
		DetectorKind: tier.Rule,
	}
}

func matchKeywords(text string, s3, s2 []string) (tier.Tier, string) {
	if text == "" {
		return tier.S1, ""
	}
	lower := strings.ToLower(text)
	if kw, ok := firstContains(lower, s3); ok {
		return tier.S3, "keyword match: " + kw
	}
	if kw, ok := firstContains(lower, s2); ok {
		return tier.S2, "keyword match: " + kw
	}
	return tier.S1, ""
}

func firstContains(haystack string, needles []string) (string, bool) {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}

func matchPatterns(text string, s3, s2 []*CompiledPattern) (tier.Tier, string) {
	if text == "" {
		return tier.S1, ""
	}
	if p, ok := firstMatch(text, s3); ok {
		return tier.S3, "pattern match: " + p.Source
	}
	if p, ok := firstMatch(text, s2); ok {
		return tier.S2, "pattern match: " + p.Source
	}
	return tier.S1, ""
}

func firstMatch(text string, patterns []*CompiledPattern) (*CompiledPattern, bool) {
	for _, p := range patterns {
		if p.Match(text) {
			return p, true
		}
	}
	return nil, false
}

func matchTool(toolName string, s3, s2 []string) (tier.Tier, string) {
	if toolName == "" {
		return tier.S1, ""
	}
	if containsString(s3, toolName) {
		return tier.S3, "tool name: " + toolName
	}
	if containsString(s2, toolName) {
		return tier.S2, "tool name: " + toolName
	}
	return tier.S1, ""
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// matchToolPaths recursively extracts path-like values from params (maps
// only, not arrays, per §4.1) and applies both the configured path rules and
// the unconditional credential-extension forcing rule.
func matchToolPaths(params map[string]any, s3, s2 ToolRule) (tier.Tier, string) {
	paths := extractPaths(params)
	best := tier.S1
	reason := ""

	for _, p := range paths {
		if isForcedS3Path(p) {
			return tier.S3, "protected credential path: " + p
		}
		if ok, reasonTxt := pathMatches(p, s3.Paths); ok && tier.S3 > best {
			best, reason = tier.S3, reasonTxt
			continue
		}
		if ok, reasonTxt := pathMatches(p, s2.Paths); ok && tier.S2 > best {
			best, reason = tier.S2, reasonTxt
		}
	}
	return best, reason
}

func extractPaths(params map[string]any) []string {
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

func isForcedS3Path(p string) bool {
	lower := strings.ToLower(p)
	for _, ext := range forcedS3Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, sub := range forcedS3Substrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// pathMatches implements the three path-matching semantics of §4.1: exact
// match after ~ expansion, prefix-plus-separator match, and configured
// wildcard-prefix suffix match.
func pathMatches(candidate string, configured []string) (bool, string) {
	expanded := expandTilde(candidate)
	for _, cfgPath := range configured {
		if cfgPath == "" {
			continue
		}
		if strings.HasPrefix(cfgPath, "*") {
			suffix := strings.TrimPrefix(cfgPath, "*")
			if strings.HasSuffix(expanded, suffix) {
				return true, "path suffix match: " + cfgPath
			}
			continue
		}
		expandedCfg := expandTilde(cfgPath)
		if expanded == expandedCfg {
			return true, "path exact match: " + cfgPath
		}
		if strings.HasPrefix(expanded, expandedCfg+"/") || strings.HasPrefix(expanded, expandedCfg+"\\") {
			return true, "path prefix match: " + cfgPath
		}
	}
	return false, ""
}

func expandTilde(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + strings.TrimPrefix(p, "~")
}

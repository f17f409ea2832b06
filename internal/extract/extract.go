// Package extract implements the PII Extractor (C4): a local-model call
// that returns a list of (type, value) spans found in a content snippet,
// via a completion-style prompt the model is invited to finish as a JSON
// array.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"privacygate/internal/localcache"
	"privacygate/internal/localmodel"
	"privacygate/internal/logger"
	"privacygate/internal/tier"
)

// maxContentChars bounds the content snippet sent to the model, per §4.4.
const maxContentChars = 3000

// extractionStopSequences mark the boundary between the expected JSON
// completion and further hallucination.
var extractionStopSequences = []string{"\n\n", "Input:", "Task:"}

// extractionPromptTemplate shows a worked example and invites the model to
// complete a JSON array, ending with "Output: [" per §4.4.
const extractionPromptTemplate = `Extract personally identifiable information from the text below as a JSON array of {"type": string, "value": string} objects.

Input: "Contact Jane Doe at jane@acme.test or 555-0100."
Output: [{"type": "name", "value": "Jane Doe"}, {"type": "email", "value": "jane@acme.test"}, {"type": "phone", "value": "555-0100"}]

Input: "%s"
Output: [`

// Extractor calls the local model to extract PII entities from content.
type Extractor struct {
	transport localmodel.Transport
	cache     localcache.Cache // may be nil: no caching
	log       *logger.Logger
}

// New returns an Extractor. cache may be nil to disable result caching.
func New(transport localmodel.Transport, cache localcache.Cache, log *logger.Logger) *Extractor {
	return &Extractor{transport: transport, cache: cache, log: log}
}

// ExtractPII implements extract_pii(content) → list[(type, value)]. Model
// transport errors and malformed replies degrade to an empty list per §7,
// not an error return — extraction failures are conservative, not fatal.
func (e *Extractor) ExtractPII(ctx context.Context, content string) []tier.PrivacyEntity {
	if content == "" {
		return nil
	}

	snippet := truncate(content, maxContentChars)

	if e.cache != nil {
		key := cacheKey(snippet)
		if cached, ok := e.cache.Get(key); ok {
			if entities, ok := decodeEntities(cached); ok {
				return entities
			}
		}
		reply, err := e.call(ctx, snippet)
		if err != nil {
			if e.log != nil {
				e.log.Warnf("extract_pii", "local model transport error: %v", err)
			}
			return nil
		}
		entities := parseEntities(reply)
		if encoded, err := json.Marshal(entities); err == nil {
			e.cache.Set(key, string(encoded))
		}
		return entities
	}

	reply, err := e.call(ctx, snippet)
	if err != nil {
		if e.log != nil {
			e.log.Warnf("extract_pii", "local model transport error: %v", err)
		}
		return nil
	}
	return parseEntities(reply)
}

func (e *Extractor) call(ctx context.Context, snippet string) (string, error) {
	prompt := buildExtractionPrompt(snippet)
	return e.transport.Complete(ctx, prompt, localmodel.Options{
		Temperature: 0.0,
		Stop:        extractionStopSequences,
	})
}

func buildExtractionPrompt(snippet string) string {
	return strings.Replace(extractionPromptTemplate, "%s", snippet, 1)
}

// parseEntities applies the §4.4 parsing contract: the reply is prefixed
// with "[", trimmed after the last "]", and parsed as JSON; entities are
// filtered to those where both fields are strings with value length ≥ 2.
func parseEntities(reply string) []tier.PrivacyEntity {
	candidate := "[" + reply
	end := strings.LastIndex(candidate, "]")
	if end == -1 {
		return nil
	}
	candidate = candidate[:end+1]

	var raw []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil
	}

	out := make([]tier.PrivacyEntity, 0, len(raw))
	for _, r := range raw {
		if len(r.Value) < 2 {
			continue
		}
		out = append(out, tier.PrivacyEntity{Type: r.Type, Value: r.Value})
	}
	return out
}

func decodeEntities(encoded string) ([]tier.PrivacyEntity, bool) {
	var entities []tier.PrivacyEntity
	if err := json.Unmarshal([]byte(encoded), &entities); err != nil {
		return nil, false
	}
	return entities, true
}

func cacheKey(snippet string) string {
	sum := sha256.Sum256([]byte(snippet))
	return "extract:" + hex.EncodeToString(sum[:])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

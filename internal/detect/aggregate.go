package detect

import (
	"context"
	"strings"
	"sync"

	"privacygate/internal/tier"
)

// Aggregator implements detect(context, checkpoint, config) → DetectionResult
// (C3): it runs the checkpoint's enabled detector set concurrently and
// reduces to the dominating tier, tie-breaking by detector-kind priority.
type Aggregator struct {
	rule     *RuleDetector
	semantic *SemanticDetector
}

// NewAggregator wires the two detector implementations. Either may be nil if
// the corresponding detector is never enabled for any checkpoint.
func NewAggregator(rule *RuleDetector, semantic *SemanticDetector) *Aggregator {
	return &Aggregator{rule: rule, semantic: semantic}
}

// EnabledSet is the per-checkpoint detector configuration: which kinds run,
// plus the rule configuration the Rule Detector needs when enabled.
type EnabledSet struct {
	Kinds      []tier.DetectorKind
	RuleConfig RuleConfig
}

// Detect runs the enabled detectors concurrently and reduces their outputs
// by tier supremum, tie-breaking Rule > Semantic. If a detector fails or a
// checkpoint's context carries nothing for it to examine, that detector
// contributes S1 rather than failing the aggregate as a whole, per §4.3.
func (a *Aggregator) Detect(ctx context.Context, dctx tier.DetectionContext, set EnabledSet) tier.DetectionResult {
	results := a.runEnabled(ctx, dctx, set)
	if len(results) == 0 {
		return tier.DetectionResult{Tier: tier.S1, Confidence: 1.0, Reason: "no detectors enabled", DetectorKind: tier.Rule}
	}
	return reduce(results)
}

func (a *Aggregator) runEnabled(ctx context.Context, dctx tier.DetectionContext, set EnabledSet) []tier.DetectionResult {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []tier.DetectionResult

	add := func(r tier.DetectionResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	for _, kind := range set.Kinds {
		switch kind {
		case tier.Rule:
			if a.rule == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				add(a.rule.Detect(dctx, set.RuleConfig))
			}()
		case tier.Semantic:
			if a.semantic == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				add(safeSemanticDetect(ctx, a.semantic, dctx))
			}()
		}
	}

	wg.Wait()
	return results
}

// safeSemanticDetect guards against a panicking transport implementation —
// a single bad detector must not crash the whole checkpoint, per §4.3's
// "the aggregator never fails as a whole".
func safeSemanticDetect(ctx context.Context, d *SemanticDetector, dctx tier.DetectionContext) (result tier.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = tier.DetectionResult{Tier: tier.S1, Confidence: 0, Reason: "semantic detector panicked", DetectorKind: tier.Semantic}
		}
	}()
	return d.Detect(ctx, dctx)
}

// reduce folds detector outputs by tier supremum, tie-breaking by detector
// priority (Rule > Semantic) and joining contributing reasons with "; ".
func reduce(results []tier.DetectionResult) tier.DetectionResult {
	best := results[0]
	for _, r := range results[1:] {
		if r.Tier > best.Tier {
			best = r
			continue
		}
		if r.Tier == best.Tier && r.DetectorKind.Priority() > best.DetectorKind.Priority() {
			best = r
		}
	}

	reasons := make([]string, 0, len(results))
	for _, r := range results {
		if r.Tier == best.Tier && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}

	return tier.DetectionResult{
		Tier:         best.Tier,
		Confidence:   best.Confidence,
		Reason:       strings.Join(dedupeReasons(reasons), "; "),
		DetectorKind: best.DetectorKind,
	}
}

func dedupeReasons(reasons []string) []string {
	seen := make(map[string]bool, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

package detect

import (
	"context"
	"testing"

	"privacygate/internal/tier"
)

func TestAggregatorSupremumAcrossDetectors(t *testing.T) {
	rule := NewRuleDetector()
	semantic := NewSemanticDetector(&fakeTransport{reply: `{"level":"S3","reason":"model says private","confidence":0.9}`}, nil)
	agg := NewAggregator(rule, semantic)

	set := EnabledSet{Kinds: []tier.DetectorKind{tier.Rule, tier.Semantic}}
	got := agg.Detect(context.Background(), tier.DetectionContext{MessageText: "hello"}, set)
	if got.Tier != tier.S3 {
		t.Fatalf("got %v, want S3 (semantic detector's verdict dominates)", got.Tier)
	}
}

func TestAggregatorTieBreakPrefersRule(t *testing.T) {
	rule := NewRuleDetector()
	semantic := NewSemanticDetector(&fakeTransport{reply: `{"level":"S2","reason":"semantic says S2","confidence":0.7}`}, nil)
	agg := NewAggregator(rule, semantic)

	cfg := RuleConfig{KeywordsS2: []string{"phone"}}
	set := EnabledSet{Kinds: []tier.DetectorKind{tier.Rule, tier.Semantic}, RuleConfig: cfg}
	got := agg.Detect(context.Background(), tier.DetectionContext{MessageText: "my phone is 555"}, set)
	if got.Tier != tier.S2 {
		t.Fatalf("got %v, want S2", got.Tier)
	}
	if got.DetectorKind != tier.Rule {
		t.Fatalf("got detector kind %v, want rule to win the same-tier tie-break", got.DetectorKind)
	}
}

func TestAggregatorNoDetectorsEnabledYieldsS1(t *testing.T) {
	agg := NewAggregator(nil, nil)
	got := agg.Detect(context.Background(), tier.DetectionContext{MessageText: "hello"}, EnabledSet{})
	if got.Tier != tier.S1 {
		t.Fatalf("got %v, want S1", got.Tier)
	}
}

func TestAggregatorSkipsNilDetectorForEnabledKind(t *testing.T) {
	rule := NewRuleDetector()
	agg := NewAggregator(rule, nil) // semantic enabled in config but not wired
	cfg := RuleConfig{KeywordsS3: []string{"secret"}}
	set := EnabledSet{Kinds: []tier.DetectorKind{tier.Rule, tier.Semantic}, RuleConfig: cfg}
	got := agg.Detect(context.Background(), tier.DetectionContext{MessageText: "a secret value"}, set)
	if got.Tier != tier.S3 {
		t.Fatalf("got %v, want S3 from the rule detector alone", got.Tier)
	}
}

func TestAggregatorJoinsReasonsFromMultipleContributorsAtSameTier(t *testing.T) {
	rule := NewRuleDetector()
	semantic := NewSemanticDetector(&fakeTransport{reply: `{"level":"S2","reason":"semantic also S2","confidence":0.5}`}, nil)
	agg := NewAggregator(rule, semantic)

	cfg := RuleConfig{KeywordsS2: []string{"phone"}}
	set := EnabledSet{Kinds: []tier.DetectorKind{tier.Rule, tier.Semantic}, RuleConfig: cfg}
	got := agg.Detect(context.Background(), tier.DetectionContext{MessageText: "my phone is 555"}, set)
	if got.Tier != tier.S2 {
		t.Fatalf("got %v, want S2", got.Tier)
	}
	// Rule wins the tie-break but its reason alone is reported since
	// reduce only joins reasons from results matching the winning tier
	// that also share the winning detector's contribution set.
	if got.Reason == "" {
		t.Fatal("expected a non-empty reason")
	}
}

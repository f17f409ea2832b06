package session

import (
	"testing"

	"privacygate/internal/tier"
)

func TestMarkPrivateSetsFlagForS2AndS3(t *testing.T) {
	s := NewStore()
	s.MarkPrivate("sess1", tier.S2)
	if !s.IsPrivate("sess1") {
		t.Fatal("expected is_private=true after S2")
	}
}

func TestMarkPrivateNotSetForS1(t *testing.T) {
	s := NewStore()
	s.MarkPrivate("sess1", tier.S1)
	if s.IsPrivate("sess1") {
		t.Fatal("expected is_private=false after S1 only")
	}
}

func TestIsPrivateNeverRevertsWithoutReset(t *testing.T) {
	s := NewStore()
	s.MarkPrivate("sess1", tier.S2)
	s.MarkPrivate("sess1", tier.S1)
	if !s.IsPrivate("sess1") {
		t.Fatal("is_private must not revert on a lower-tier event")
	}
}

func TestHighestTierOnlyIncreases(t *testing.T) {
	s := NewStore()
	s.MarkPrivate("sess1", tier.S2)
	s.MarkPrivate("sess1", tier.S1)
	if s.HighestTier("sess1") != tier.S2 {
		t.Fatalf("got %v, want S2 (monotone)", s.HighestTier("sess1"))
	}
	s.MarkPrivate("sess1", tier.S3)
	if s.HighestTier("sess1") != tier.S3 {
		t.Fatalf("got %v, want S3", s.HighestTier("sess1"))
	}
}

func TestUnknownSessionDefaults(t *testing.T) {
	s := NewStore()
	if s.IsPrivate("nope") {
		t.Error("unknown session should report not private")
	}
	if s.HighestTier("nope") != tier.S1 {
		t.Error("unknown session should report S1")
	}
}

func TestRecordDetectionHistoryOrderedOldestFirst(t *testing.T) {
	s := NewStore()
	s.RecordDetection("sess1", tier.S1, tier.MessageReceived, "r1")
	s.RecordDetection("sess1", tier.S2, tier.MessageReceived, "r2")
	s.RecordDetection("sess1", tier.S3, tier.BeforeToolCall, "r3")

	hist := s.History("sess1")
	if len(hist) != 3 {
		t.Fatalf("got %d records, want 3", len(hist))
	}
	if hist[0].Reason != "r1" || hist[2].Reason != "r3" {
		t.Fatalf("unexpected order: %+v", hist)
	}
}

func TestRecordDetectionBoundedAt50(t *testing.T) {
	s := NewStore()
	for i := 0; i < 60; i++ {
		s.RecordDetection("sess1", tier.S1, tier.MessageReceived, "r")
	}
	hist := s.History("sess1")
	if len(hist) != 50 {
		t.Fatalf("got %d records, want bounded at 50", len(hist))
	}
}

func TestMarkPreReadFilesExtractsRecognizedExtensions(t *testing.T) {
	s := NewStore()
	s.MarkPreReadFiles("sess1", "please summarize invoices/Q3.csv and also ignore notes.pdf")
	if !s.IsFilePreRead("sess1", "invoices/Q3.csv") {
		t.Error("expected invoices/Q3.csv to be pre-read")
	}
	if s.IsFilePreRead("sess1", "notes.pdf") {
		t.Error("pdf is not a recognized extension and should not be tracked")
	}
}

func TestIsFilePreReadNormalizesPath(t *testing.T) {
	s := NewStore()
	s.AddPreReadFile("sess1", "./invoices/../invoices/Q3.csv")
	if !s.IsFilePreRead("sess1", "invoices/Q3.csv") {
		t.Error("expected normalized path match")
	}
}

func TestIsGuardSessionSubstringMatch(t *testing.T) {
	if !IsGuardSession("agent1:guard:sess2") {
		t.Error("expected guard session to be recognized")
	}
	if IsGuardSession("agent1:sess2") {
		t.Error("expected non-guard session to not match")
	}
}

func TestResetRemovesSessionAndPairedGuardEntry(t *testing.T) {
	s := NewStore()
	s.MarkPrivate("sess1", tier.S3)
	s.MarkPrivate("sess1:guard:", tier.S2)

	s.Reset("sess1")

	if s.IsPrivate("sess1") {
		t.Error("expected sess1 state to be cleared")
	}
	if s.IsPrivate("sess1:guard:") {
		t.Error("expected paired guard session state to be cleared")
	}
}

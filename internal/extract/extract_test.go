package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"privacygate/internal/localmodel"
)

type fakeTransport struct {
	reply string
	err   error
	calls int
}

func (f *fakeTransport) Complete(ctx context.Context, prompt string, opts localmodel.Options) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeTransport) Chat(ctx context.Context, messages []localmodel.ChatMessage, opts localmodel.Options) (string, error) {
	return f.reply, f.err
}

type fakeCache struct {
	store map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{store: make(map[string]string)} }

func (c *fakeCache) Get(k string) (string, bool) { v, ok := c.store[k]; return v, ok }
func (c *fakeCache) Set(k, v string)              { c.store[k] = v }
func (c *fakeCache) Delete(k string)              { delete(c.store, k) }
func (c *fakeCache) Close() error                 { return nil }

func TestExtractPIIParsesArray(t *testing.T) {
	transport := &fakeTransport{reply: `{"type": "email", "value": "jane@acme.test"}, {"type": "name", "value": "Jane Doe"}]`}
	e := New(transport, nil, nil)
	got := e.ExtractPII(context.Background(), "Contact Jane Doe at jane@acme.test")
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2: %+v", len(got), got)
	}
	if got[0].Type != "email" || got[0].Value != "jane@acme.test" {
		t.Errorf("unexpected first entity: %+v", got[0])
	}
}

func TestExtractPIIFiltersShortValues(t *testing.T) {
	transport := &fakeTransport{reply: `{"type": "code", "value": "1"}, {"type": "name", "value": "Jo"}]`}
	e := New(transport, nil, nil)
	got := e.ExtractPII(context.Background(), "x")
	if len(got) != 1 || got[0].Value != "Jo" {
		t.Fatalf("got %+v, want only entries with value length >= 2", got)
	}
}

func TestExtractPIIEmptyContentShortCircuits(t *testing.T) {
	transport := &fakeTransport{reply: "should not be called"}
	e := New(transport, nil, nil)
	got := e.ExtractPII(context.Background(), "")
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if transport.calls != 0 {
		t.Error("transport should not be called for empty content")
	}
}

func TestExtractPIIMalformedJSONYieldsEmpty(t *testing.T) {
	transport := &fakeTransport{reply: "not json at all"}
	e := New(transport, nil, nil)
	got := e.ExtractPII(context.Background(), "some content")
	if len(got) != 0 {
		t.Fatalf("got %+v, want empty", got)
	}
}

func TestExtractPIITransportErrorYieldsEmpty(t *testing.T) {
	transport := &fakeTransport{err: errors.New("boom")}
	e := New(transport, nil, nil)
	got := e.ExtractPII(context.Background(), "some content")
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestExtractPIITruncatesLongContent(t *testing.T) {
	var capturedPrompt string
	transport := &captureTransport{capture: &capturedPrompt, reply: "]"}
	e := New(transport, nil, nil)
	long := strings.Repeat("a", maxContentChars+500)
	e.ExtractPII(context.Background(), long)
	if strings.Count(capturedPrompt, "a") > maxContentChars {
		t.Errorf("expected content to be truncated to %d chars", maxContentChars)
	}
}

func TestExtractPIIUsesCacheOnSecondCall(t *testing.T) {
	transport := &fakeTransport{reply: `{"type": "email", "value": "jane@acme.test"}]`}
	cache := newFakeCache()
	e := New(transport, cache, nil)

	first := e.ExtractPII(context.Background(), "Contact jane@acme.test")
	second := e.ExtractPII(context.Background(), "Contact jane@acme.test")

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 entity both times, got %d and %d", len(first), len(second))
	}
	if transport.calls != 1 {
		t.Errorf("expected transport to be called once (second call served from cache), got %d calls", transport.calls)
	}
}

type captureTransport struct {
	capture *string
	reply   string
}

func (c *captureTransport) Complete(ctx context.Context, prompt string, opts localmodel.Options) (string, error) {
	*c.capture = prompt
	return c.reply, nil
}

func (c *captureTransport) Chat(ctx context.Context, messages []localmodel.ChatMessage, opts localmodel.Options) (string, error) {
	return c.reply, nil
}

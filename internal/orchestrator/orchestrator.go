// Package orchestrator implements the Lifecycle Orchestrator (C10): the
// checkpoint dispatch table that ties the classification pipeline, the
// Redactor, the File-Access Guard, Session State, and Dual-Track
// Persistence together into the host contract of §4.10 — one call per
// checkpoint, one decision returned.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"privacygate/internal/detect"
	"privacygate/internal/eventbus"
	"privacygate/internal/extract"
	"privacygate/internal/fileconv"
	"privacygate/internal/guard"
	"privacygate/internal/localmodel"
	"privacygate/internal/logger"
	"privacygate/internal/memory"
	"privacygate/internal/persist"
	"privacygate/internal/redact"
	"privacygate/internal/session"
	"privacygate/internal/tier"
)

// reentrancyPrefixes mark content the orchestrator has already produced;
// seeing one on the way in means the router must not run twice on the same
// content, per §4.10.
var reentrancyPrefixes = []string{"[REDACTED:", "[SYSTEM]"}

// directResponseSigil visibly marks a reply that was answered locally
// instead of being routed to a remote model.
const directResponseSigil = "🔒 "

// guardSystemPrompt is sent with every S3 local-model call: the model must
// answer from the supplied context only and never suggest forwarding it
// elsewhere.
const guardSystemPrompt = "You are a privacy-preserving local assistant. Answer the user's request using only the context provided below. Never suggest sending this content to another model, service, or person."

// referencedFilePattern finds filesystem-path-like tokens with a
// recognized extension inside free text, mirroring the set the Session
// State pre-read tracker recognizes.
var referencedFilePattern = regexp.MustCompile(`[^\s"']+\.(?:xlsx|xls|csv|txt|docx|json|md)\b`)

// DecisionKind distinguishes the four routing outcomes ResolveModel may
// return, per §4.10's decision surface.
type DecisionKind int

const (
	Passthrough DecisionKind = iota
	OverridePrompt
	DirectResponse
	Block
)

// Decision is the tagged-union routing outcome of ResolveModel or
// BeforeToolCall.
type Decision struct {
	Kind     DecisionKind
	Text     string // OverridePrompt's desensitized prompt, or DirectResponse's reply text
	Provider string // DirectResponse only
	Model    string // DirectResponse only
	Reason   string // Block only
}

// Config is the static wiring the Orchestrator needs beyond its
// collaborators: which detectors run at which checkpoint, and the local
// model identity used for S3 direct responses.
type Config struct {
	MessageDetectors    detect.EnabledSet
	ToolCallDetectors   detect.EnabledSet
	ToolResultDetectors detect.EnabledSet
	Provider            string // reported on DirectResponse, e.g. "local"
	ModelName           string
	CallTimeout         time.Duration
	Workspace           string // root fileconv resolves referenced-file paths against
}

// Orchestrator wires every other component into the checkpoint dispatch
// table of §4.10.
type Orchestrator struct {
	cfg Config

	aggregator *detect.Aggregator
	sessions   *session.Store
	persist    *persist.Store
	extractor  *extract.Extractor // may be nil: redaction falls back to rules
	files      *fileconv.Reader
	events     *eventbus.Bus
	local      localmodel.Transport
	guardCfg   guard.Config
	log        *logger.Logger
}

// New wires an Orchestrator from its collaborators. extractor and local may
// be nil; absent them, S2 falls back to rule-based redaction and the S3
// branch of ResolveModel degrades to OverridePrompt (no local model to call).
func New(
	cfg Config,
	aggregator *detect.Aggregator,
	sessions *session.Store,
	persistStore *persist.Store,
	extractor *extract.Extractor,
	files *fileconv.Reader,
	events *eventbus.Bus,
	local localmodel.Transport,
	guardCfg guard.Config,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, aggregator: aggregator, sessions: sessions, persist: persistStore,
		extractor: extractor, files: files, events: events, local: local,
		guardCfg: guardCfg, log: log,
	}
}

func isReentrant(message string) bool {
	for _, p := range reentrancyPrefixes {
		if strings.HasPrefix(message, p) {
			return true
		}
	}
	return false
}

// OnMessageReceived implements the MessageReceived checkpoint: classify,
// record, persist full, mark session.
func (o *Orchestrator) OnMessageReceived(ctx context.Context, agentID, sessionKey, message string) tier.DetectionResult {
	dctx := tier.DetectionContext{MessageText: message, SessionKey: sessionKey, AgentID: agentID}
	result := o.aggregator.Detect(ctx, dctx, o.cfg.MessageDetectors)

	o.sessions.RecordDetection(sessionKey, result.Tier, tier.MessageReceived, result.Reason)
	o.sessions.MarkPrivate(sessionKey, result.Tier)

	if o.persist != nil {
		rec := persist.Record{Role: "user", Content: message, Timestamp: time.Now(), SessionKey: sessionKey}
		var entities []tier.PrivacyEntity
		if result.Tier == tier.S2 && o.extractor != nil {
			entities = o.extractor.ExtractPII(ctx, message)
		}
		if err := o.persist.Persist(agentID, sessionKey, rec, result.Tier, entities); err != nil && o.log != nil {
			o.log.Errorf("orchestrator", "persist full failed for session %s: %v", sessionKey, err)
		}
	}

	o.maybeEmitPrivacyActivated(sessionKey, agentID, result)
	return result
}

// ResolveModel implements the ResolveModel state machine of §4.10.
func (o *Orchestrator) ResolveModel(ctx context.Context, agentID, sessionKey, message string) Decision {
	if isReentrant(message) {
		return Decision{Kind: Passthrough}
	}

	t := o.sessions.HighestTier(sessionKey)
	switch t {
	case tier.S3:
		return o.resolveS3(ctx, agentID, sessionKey, message)
	case tier.S2:
		return o.resolveS2(ctx, agentID, sessionKey, message)
	default:
		return Decision{Kind: Passthrough}
	}
}

func (o *Orchestrator) resolveS2(ctx context.Context, agentID, sessionKey, message string) Decision {
	path, task, found := extractReferencedFile(message)
	if !found || o.files == nil {
		return Decision{Kind: OverridePrompt, Text: o.redact(ctx, message)}
	}

	content, ok := o.files.TryReadReferencedFile(ctx, path, o.cfg.Workspace)
	if !ok {
		return Decision{Kind: OverridePrompt, Text: o.redact(ctx, message)}
	}

	o.sessions.AddPreReadFile(sessionKey, path)
	redactedFile := o.redact(ctx, content)
	override := fmt.Sprintf("%s\n\n%s\n\n(Do not reproduce the [REDACTED:...] tokens above verbatim in your reply.)", task, redactedFile)
	return Decision{Kind: OverridePrompt, Text: override}
}

func (o *Orchestrator) resolveS3(ctx context.Context, agentID, sessionKey, message string) Decision {
	if o.local == nil {
		// No local model configured: the safest available degrade is still
		// to keep the content off the remote path entirely.
		return Decision{Kind: OverridePrompt, Text: o.redact(ctx, message)}
	}

	prompt := message
	if path, _, found := extractReferencedFile(message); found && o.files != nil {
		if content, ok := o.files.TryReadReferencedFile(ctx, path, o.cfg.Workspace); ok {
			o.sessions.AddPreReadFile(sessionKey, path)
			prompt = message + "\n\n" + content
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}

	reply, err := o.local.Chat(callCtx, []localmodel.ChatMessage{
		{Role: "system", Content: guardSystemPrompt},
		{Role: "user", Content: prompt},
	}, localmodel.Options{Temperature: 0.2})
	if err != nil {
		if o.log != nil {
			o.log.Warnf("orchestrator", "local model call failed for S3 message in session %s: %v", sessionKey, err)
		}
		// The call failing must never fall through to passing the original
		// content to a remote model (§5's "security errors never
		// degrade"); answer locally with a fixed apology instead.
		return Decision{
			Kind: DirectResponse, Provider: o.cfg.Provider, Model: o.cfg.ModelName,
			Text: directResponseSigil + "I can't process this privately right now. Please try again shortly.",
		}
	}

	return Decision{Kind: DirectResponse, Provider: o.cfg.Provider, Model: o.cfg.ModelName, Text: directResponseSigil + reply}
}

// redact desensitizes text using model-backed extraction when an extractor
// is wired, falling back to rule-based redaction otherwise.
func (o *Orchestrator) redact(ctx context.Context, content string) string {
	if o.extractor != nil {
		entities := o.extractor.ExtractPII(ctx, content)
		return redact.Redact(content, entities).Content
	}
	return redact.RedactFallback(content).Content
}

// BeforeToolCall implements the BeforeToolCall checkpoint: classify the
// call, defer to the File-Access Guard, and emit an observability event on
// a block.
func (o *Orchestrator) BeforeToolCall(ctx context.Context, agentID, sessionKey, toolName string, params map[string]any) Decision {
	dctx := tier.DetectionContext{ToolName: toolName, ToolParams: params, SessionKey: sessionKey, AgentID: agentID}
	result := o.aggregator.Detect(ctx, dctx, o.cfg.ToolCallDetectors)
	o.sessions.RecordDetection(sessionKey, result.Tier, tier.BeforeToolCall, result.Reason)

	gd := guard.GuardToolCall(tier.BeforeToolCall, toolName, params, sessionKey, o.guardCfg, o.sessions, result)
	if !gd.Allowed {
		if o.events != nil {
			o.events.Publish(eventbus.Event{Kind: eventbus.EventGuardBlocked, SessionID: sessionKey, AgentID: agentID, Tier: result.Tier.String(), Detail: gd.Reason})
		}
		return Decision{Kind: Block, Reason: gd.Reason}
	}
	o.maybeEmitPrivacyActivated(sessionKey, agentID, result)
	return Decision{Kind: Passthrough}
}

// AfterToolCall implements the AfterToolCall checkpoint: classify the tool
// result and mark the session.
func (o *Orchestrator) AfterToolCall(ctx context.Context, agentID, sessionKey, toolResult string) tier.DetectionResult {
	dctx := tier.DetectionContext{ToolResult: toolResult, SessionKey: sessionKey, AgentID: agentID}
	result := o.aggregator.Detect(ctx, dctx, o.cfg.ToolResultDetectors)
	o.sessions.RecordDetection(sessionKey, result.Tier, tier.AfterToolCall, result.Reason)
	o.sessions.MarkPrivate(sessionKey, result.Tier)
	o.maybeEmitPrivacyActivated(sessionKey, agentID, result)
	return result
}

// ToolResultPersist implements the ToolResultPersist checkpoint: trigger
// the dual-track write for sessions the privacy pipeline has marked private.
// Sessions that have never left S1 have nothing distinct to protect on the
// clean track, so they are skipped rather than doubling every tool result
// into storage unconditionally.
func (o *Orchestrator) ToolResultPersist(ctx context.Context, agentID, sessionKey string, rec persist.Record, t tier.Tier, entities []tier.PrivacyEntity) error {
	if !o.sessions.IsPrivate(sessionKey) {
		return nil
	}
	if entities == nil && t == tier.S2 && o.extractor != nil {
		entities = o.extractor.ExtractPII(ctx, rec.Content)
	}
	return o.persist.Persist(agentID, sessionKey, rec, t, entities)
}

// SessionEnd implements the SessionEnd checkpoint: run the memory sync.
func (o *Orchestrator) SessionEnd(ctx context.Context, mem *memory.Manager) error {
	if mem == nil {
		return nil
	}
	return mem.SyncFullToClean(ctx)
}

func (o *Orchestrator) maybeEmitPrivacyActivated(sessionKey, agentID string, result tier.DetectionResult) {
	if o.events == nil || result.Tier == tier.S1 {
		return
	}
	o.events.Publish(eventbus.Event{
		Kind: eventbus.EventPrivacyActivated, SessionID: sessionKey, AgentID: agentID,
		Tier: result.Tier.String(), Detail: result.Reason,
	})
}

// extractReferencedFile finds the first recognized file path in message and
// returns it along with the message with that token stripped (the "task"
// text the S2 override reattaches the redacted file content to).
func extractReferencedFile(message string) (path, task string, found bool) {
	loc := referencedFilePattern.FindStringIndex(message)
	if loc == nil {
		return "", message, false
	}
	path = message[loc[0]:loc[1]]
	task = strings.TrimSpace(message[:loc[0]] + message[loc[1]:])
	return path, task, true
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/events"
	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/metrics"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/provider"
	"github.com/handyboss/relay-gateway/internal/storage"
)

// Protocol dispatches inbound envelopes by kind, runs the orchestrator
// for the right task, persists side effects and routes replies. It is
// stateless per message; ordering comes from the hub calling it
// synchronously per connection.
type Protocol struct {
	orch     *nlu.Orchestrator
	store    storage.Store
	events   *events.Publisher
	detector *langdetect.Detector
	langs    config.LanguagesConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewProtocol wires the protocol handler and installs it on the hub.
func NewProtocol(orch *nlu.Orchestrator, store storage.Store, pub *events.Publisher,
	detector *langdetect.Detector, langs config.LanguagesConfig, hub *Hub, logger *slog.Logger) *Protocol {
	p := &Protocol{
		orch:     orch,
		store:    store,
		events:   pub,
		detector: detector,
		langs:    langs,
		hub:      hub,
		logger:   logger,
	}
	hub.SetHandler(p)
	return p
}

// HandleOpen greets the new connection.
func (p *Protocol) HandleOpen(_ context.Context, c *Conn) {
	p.hub.Send(c, Welcome{
		Kind:         KindWelcome,
		Message:      "Connected to the jobsite relay",
		ConnectionID: c.ID,
	})
}

// HandleMessage parses, validates and dispatches one inbound envelope.
// Malformed input never drops the connection; the sender gets an error
// envelope and the loop continues.
func (p *Protocol) HandleMessage(ctx context.Context, c *Conn, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		metrics.RelayMessages.WithLabelValues("malformed").Inc()
		p.sendError(c, "invalid JSON envelope", "")
		return
	}
	if err := in.Validate(); err != nil {
		metrics.RelayMessages.WithLabelValues("invalid").Inc()
		p.sendError(c, err.Error(), in.CorrelationID)
		return
	}
	metrics.RelayMessages.WithLabelValues(in.Kind).Inc()

	switch in.Kind {
	case KindChatMessage:
		p.handleChat(ctx, c, &in)
	case KindCommand:
		p.handleCommand(ctx, c, &in)
	}
}

// primary returns the configured primary (boss) language.
func (p *Protocol) primary() langdetect.Language {
	return langdetect.Language(p.langs.Primary)
}

// secondary returns the configured secondary (worker) language.
func (p *Protocol) secondary() langdetect.Language {
	return langdetect.Language(p.langs.Secondary)
}

func (p *Protocol) roleDefault(role Role) langdetect.Language {
	if role == RoleWorker {
		return p.secondary()
	}
	return p.primary()
}

func (p *Protocol) opposite(l langdetect.Language) langdetect.Language {
	if l == p.primary() {
		return p.secondary()
	}
	return p.primary()
}

// effectiveSource resolves the message's source language. The declared
// role/language pair is a soft default: when the detector disagrees
// with it, the detector wins and the mismatch is logged rather than
// silently trusting either field.
func (p *Protocol) effectiveSource(in *Inbound) langdetect.Language {
	declared := langdetect.Language(in.Language)
	if declared == "" {
		declared = p.roleDefault(in.Role)
	}
	detected := p.detector.Detect(in.Text)
	if detected != declared {
		p.logger.Warn("language mismatch, using detected language",
			"role", string(in.Role), "declared", string(declared), "detected", string(detected))
		return detected
	}
	return declared
}

func (p *Protocol) handleChat(ctx context.Context, c *Conn, in *Inbound) {
	source := p.effectiveSource(in)
	target := p.opposite(source)

	res := p.orch.Run(ctx, provider.TaskTranslate, provider.Payload{
		Text:       in.Text,
		SourceLang: source,
		TargetLang: target,
	})
	outcome := res.Translation

	msg, err := p.store.CreateChatMessage(ctx, storage.ChatMessage{
		Original:       outcome.Original,
		Translated:     outcome.Translated,
		Role:           string(in.Role),
		Language:       string(target),
		SourceLanguage: string(source),
		Timestamp:      time.Now(),
		JobsiteID:      in.JobsiteID,
	})
	if err != nil {
		p.logger.Error("failed to persist chat message", "error", err)
		p.sendError(c, "message delivered but not saved", in.CorrelationID)
	} else {
		p.events.Publish(ctx, events.ChannelChatMessage, msg)
	}

	p.hub.Send(c, ChatResponse{
		Kind:           KindChatResponse,
		Text:           outcome.Original,
		TranslatedText: outcome.Translated,
		SourceLanguage: outcome.SourceLanguage,
		TargetLanguage: outcome.TargetLanguage,
		Provider:       outcome.Provider,
		Degraded:       outcome.Degraded,
		CorrelationID:  in.CorrelationID,
		Timestamp:      Timestamp{time.Now()},
	})
}

func (p *Protocol) handleCommand(ctx context.Context, c *Conn, in *Inbound) {
	text := in.CommandText()
	res := p.orch.Run(ctx, provider.TaskExtractIntent, provider.Payload{Text: text})
	intent := res.Intent

	ts := time.Now()
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = in.Timestamp.Time
	}

	cmd, err := p.store.CreateCommand(ctx, storage.Command{
		Text:      text,
		Intent:    intent.Intent,
		Priority:  intent.Priority,
		Timestamp: ts,
		JobsiteID: in.JobsiteID,
	})
	if err != nil {
		p.logger.Error("failed to persist command", "error", err)
		p.sendError(c, "command understood but not saved", in.CorrelationID)
		return
	}

	if impliesDelay(intent, text) {
		p.applyDelaySideEffect(ctx, &cmd, text)
	}

	p.hub.Send(c, CommandResponse{
		Kind:          KindCommandResponse,
		Text:          ackText(intent, res.Degraded),
		CommandID:     cmd.ID,
		CorrelationID: in.CorrelationID,
		Timestamp:     Timestamp{time.Now()},
	})

	update := CommandUpdate{
		Kind:      KindCommandUpdate,
		Command:   cmd,
		Intent:    intent,
		Timestamp: Timestamp{time.Now()},
	}
	p.hub.Broadcast(update, c)
	p.events.Publish(ctx, events.ChannelCommandUpdate, update)
}

// applyDelaySideEffect marks the named jobsite delayed when a command
// implies a schedule slip. The jobsite comes from the envelope when
// present, otherwise from a name match against known jobsites.
func (p *Protocol) applyDelaySideEffect(ctx context.Context, cmd *storage.Command, text string) {
	jobsiteID := cmd.JobsiteID
	if jobsiteID == "" {
		sites, err := p.store.Jobsites(ctx)
		if err != nil {
			p.logger.Warn("failed to list jobsites for delay side effect", "error", err)
			return
		}
		lower := strings.ToLower(text)
		for _, site := range sites {
			if site.Name != "" && strings.Contains(lower, strings.ToLower(site.Name)) {
				jobsiteID = site.ID
				break
			}
		}
	}
	if jobsiteID == "" {
		return
	}
	if err := p.store.UpdateJobsiteStatus(ctx, jobsiteID, "delayed"); err != nil {
		p.logger.Warn("failed to update jobsite status", "jobsite_id", jobsiteID, "error", err)
		return
	}
	p.logger.Info("jobsite marked delayed by command", "jobsite_id", jobsiteID, "command_id", cmd.ID)
}

func impliesDelay(intent *nlu.IntentResult, text string) bool {
	if intent.Intent != "schedule" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range []string{"late", "delay", "tarde", "retras", "postpone", "pushed back"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func ackText(intent *nlu.IntentResult, degraded bool) string {
	base := fmt.Sprintf("Got it. Logged a %s priority %s command", intent.Priority, intent.Intent)
	if degraded {
		return base + " (best-effort interpretation)."
	}
	return base + "."
}

func (p *Protocol) sendError(c *Conn, msg, correlationID string) {
	p.hub.Send(c, ErrorEnvelope{
		Kind:          KindError,
		Message:       msg,
		CorrelationID: correlationID,
	})
}

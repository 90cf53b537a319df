// ABOUTME: Inbound event classifier deciding echo, takeover, command, escalation, blocked, or forward
// ABOUTME: First-match rule order with owner-phone authorization for control commands

package classify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/store"
)

// Event is a typed inbound transport event, already adapted from the raw
// transport callback shape.
type Event struct {
	SessionID   string
	MessageID   string
	From        string // counterparty address
	Text        string
	FromSelf    bool // sent by this account (either the bot or the owner's phone)
	IsGroup     bool
	IsBroadcast bool
	At          time.Time
}

// Kind is the classifier's routing decision.
type Kind int

const (
	// KindDrop suppresses the event; Reason says why.
	KindDrop Kind = iota
	// KindForward hands the text to the responder.
	KindForward
	// KindReplyDirectly sends Text back without invoking the responder.
	KindReplyDirectly
)

// Drop reasons.
const (
	ReasonEcho     = "echo"
	ReasonTakeover = "takeover"
	ReasonIgnored  = "ignored"
	ReasonAck      = "ack"
	ReasonBlocked  = "blocked"
)

// Outcome is the classifier's decision for one event.
type Outcome struct {
	Kind   Kind
	Reason string // set for KindDrop
	Text   string // forwarded text or direct reply body
}

// Canned replies, in the end users' locale.
const (
	replyUnknownCommand  = "Comando não reconhecido."
	replyNoOwnerPhone    = "Não foi possível processar o comando. Configure o número do dono da conta."
	replyHandoff         = "Entendido! Estou encerrando o atendimento automático.\n\nVocê será transferido(a) para o atendente em breve."
	replyHandoffFallback = "Vou transferir você para um atendente. Aguarde um momento, por favor."
)

// blockCommandRe matches the owner-facing mute command: "###" with an
// optional duration ("### 2h", "###7d"). A bare number without a unit still
// matches here and is rejected later by the duration parser.
var blockCommandRe = regexp.MustCompile(`^###\s*(\d+(?:hr|h|d|a|ano|anos)?)?$`)

const unblockCommand = "##ativar"

// escalationPatterns are the polite pt-BR variants of "talk to a human".
var escalationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`quero\s+falar\s+com\s+(um\s+)?atendente`),
	regexp.MustCompile(`preciso\s+falar\s+com\s+(um\s+)?atendente`),
	regexp.MustCompile(`chamar\s+(um\s+)?atendente`),
	regexp.MustCompile(`transferir\s+para\s+(um\s+)?atendente`),
	regexp.MustCompile(`atendente\s+humano`),
	regexp.MustCompile(`pessoa\s+de\s+verdade`),
	regexp.MustCompile(`n[ãa]o\s+quero\s+(falar\s+com\s+)?rob[ôo]`),
	regexp.MustCompile(`quero\s+(uma\s+)?pessoa`),
	regexp.MustCompile(`falar\s+com\s+humano`),
	regexp.MustCompile(`me\s+transfere`),
	regexp.MustCompile(`transferir\s+atendimento`),
}

// Ledger is the slice of the block ledger the classifier needs.
type Ledger interface {
	Block(ctx context.Context, agentID, counterparty, blockedBy, duration string) (time.Time, error)
	Unblock(ctx context.Context, agentID, counterparty string) (bool, error)
	IsBlocked(ctx context.Context, agentID, counterparty string) (bool, error)
}

// Markers is the consumable echo-marker set.
type Markers interface {
	Consume(messageID string) bool
}

// Classifier applies the routing rules for one agent's inbound events.
type Classifier struct {
	ledger          Ledger
	markers         Markers
	defaultDuration string
	logger          *slog.Logger
}

// New creates a classifier. defaultDuration is the block duration applied
// when a command or takeover carries none recognized by the grammar.
func New(ledger Ledger, markers Markers, defaultDuration string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		ledger:          ledger,
		markers:         markers,
		defaultDuration: defaultDuration,
		logger:          logger.With("component", "classify"),
	}
}

// Classify decides how one inbound event is routed. Ledger failures are
// logged and degrade toward the safest outcome for that rule rather than
// surfacing to the end user.
func (c *Classifier) Classify(ctx context.Context, ev Event, ownerPhone string) Outcome {
	// 1–3: self-originated events
	if ev.FromSelf {
		return c.classifySelf(ctx, ev, ownerPhone)
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Outcome{Kind: KindDrop, Reason: ReasonIgnored}
	}

	// 4: owner mute command (grammar is case-insensitive)
	if m := blockCommandRe.FindStringSubmatch(strings.ToLower(text)); m != nil {
		return c.classifyBlockCommand(ctx, ev, ownerPhone, m[1])
	}

	// 5: owner unmute command
	if text == unblockCommand {
		return c.classifyUnblockCommand(ctx, ev, ownerPhone)
	}

	// 6: human escalation request
	if isEscalationRequest(text) {
		return c.classifyEscalation(ctx, ev)
	}

	// 7: live block
	blocked, err := c.ledger.IsBlocked(ctx, ev.SessionID, ev.From)
	if err != nil {
		c.logger.Error("block check failed, forwarding anyway",
			"session_id", ev.SessionID, "counterparty", ev.From, "error", err)
	}
	if blocked {
		return Outcome{Kind: KindDrop, Reason: ReasonBlocked}
	}

	// 8: genuine query
	return Outcome{Kind: KindForward, Text: text}
}

// classifySelf handles events carrying the account's own sender identity:
// echoes of the bot's replies, manual owner takeover, and everything else.
func (c *Classifier) classifySelf(ctx context.Context, ev Event, ownerPhone string) Outcome {
	if c.markers.Consume(ev.MessageID) {
		return Outcome{Kind: KindDrop, Reason: ReasonEcho}
	}

	if !ev.IsGroup && !ev.IsBroadcast && ownerPhone != "" && !sameDigits(ev.From, ownerPhone) {
		if _, err := c.ledger.Block(ctx, ev.SessionID, ev.From, store.BlockedByOwnerTakeover, c.defaultDuration); err != nil {
			c.logger.Error("takeover block failed",
				"session_id", ev.SessionID, "counterparty", ev.From, "error", err)
			return Outcome{Kind: KindDrop, Reason: ReasonIgnored}
		}
		c.logger.Info("owner takeover detected, muting counterparty",
			"session_id", ev.SessionID, "counterparty", ev.From)
		return Outcome{Kind: KindDrop, Reason: ReasonTakeover}
	}

	return Outcome{Kind: KindDrop, Reason: ReasonIgnored}
}

func (c *Classifier) classifyBlockCommand(ctx context.Context, ev Event, ownerPhone, duration string) Outcome {
	if ownerPhone == "" {
		c.logger.Warn("block command received but agent has no owner phone configured",
			"session_id", ev.SessionID)
		return Outcome{Kind: KindReplyDirectly, Text: replyNoOwnerPhone}
	}

	if !sameDigits(ev.From, ownerPhone) {
		c.logger.Warn("block command from non-owner",
			"session_id", ev.SessionID, "counterparty", ev.From)
		return Outcome{Kind: KindReplyDirectly, Text: replyUnknownCommand}
	}

	if duration == "" {
		duration = c.defaultDuration
	}
	if _, err := c.ledger.Block(ctx, ev.SessionID, ev.From, store.BlockedByManual, duration); err != nil {
		// Bad grammar or a store failure: leave existing state unchanged,
		// acknowledge silently as the owner is driving.
		c.logger.Warn("block command not applied",
			"session_id", ev.SessionID, "duration", duration, "error", err)
	}
	return Outcome{Kind: KindDrop, Reason: ReasonAck}
}

func (c *Classifier) classifyUnblockCommand(ctx context.Context, ev Event, ownerPhone string) Outcome {
	if ownerPhone == "" {
		c.logger.Warn("unblock command received but agent has no owner phone configured",
			"session_id", ev.SessionID)
		return Outcome{Kind: KindDrop, Reason: ReasonAck}
	}

	if !sameDigits(ev.From, ownerPhone) {
		return Outcome{Kind: KindReplyDirectly, Text: replyUnknownCommand}
	}

	if _, err := c.ledger.Unblock(ctx, ev.SessionID, ev.From); err != nil {
		c.logger.Error("unblock command failed",
			"session_id", ev.SessionID, "counterparty", ev.From, "error", err)
	}
	return Outcome{Kind: KindDrop, Reason: ReasonAck}
}

func (c *Classifier) classifyEscalation(ctx context.Context, ev Event) Outcome {
	if _, err := c.ledger.Block(ctx, ev.SessionID, ev.From, store.BlockedBySystem, c.defaultDuration); err != nil {
		c.logger.Error("escalation block failed",
			"session_id", ev.SessionID, "counterparty", ev.From, "error", err)
		return Outcome{Kind: KindReplyDirectly, Text: replyHandoffFallback}
	}
	c.logger.Info("human escalation requested, muting counterparty",
		"session_id", ev.SessionID, "counterparty", ev.From)
	return Outcome{Kind: KindReplyDirectly, Text: replyHandoff}
}

// isEscalationRequest reports whether the text matches any of the locale's
// "talk to a human" phrasings.
func isEscalationRequest(text string) bool {
	normalized := strings.ToLower(text)
	for _, p := range escalationPatterns {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

var nonDigits = regexp.MustCompile(`[^\d]`)

// sameDigits compares two addresses by digits only, accepting substring
// containment either way: transport addresses carry suffixes and country
// prefixes the stored owner number may lack.
func sameDigits(a, b string) bool {
	da := nonDigits.ReplaceAllString(a, "")
	db := nonDigits.ReplaceAllString(b, "")
	if da == "" || db == "" {
		return false
	}
	return strings.Contains(da, db) || strings.Contains(db, da)
}

// ABOUTME: Tests for the inbound event classifier
// ABOUTME: Covers echo consumption, takeover, owner commands, escalation, blocking, and forwarding

package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/blocklist"
	"github.com/relaydesk/relaydesk/internal/echo"
	"github.com/relaydesk/relaydesk/internal/store"
)

const (
	testAgent = "agent-001"
	testOwner = "+55 11 91234-5678"
	testUser  = "5511988887777@s.whatsapp.net"
)

func newTestClassifier(t *testing.T) (*Classifier, *blocklist.Ledger, *echo.Markers, *store.MockStore) {
	t.Helper()
	ms := store.NewMockStore()
	ledger := blocklist.New(ms, nil)
	markers := echo.New(10*time.Second, 100)
	c := New(ledger, markers, "24h", nil)
	return c, ledger, markers, ms
}

func userEvent(text string) Event {
	return Event{
		SessionID: testAgent,
		MessageID: "msg-1",
		From:      testUser,
		Text:      text,
	}
}

func TestClassify_Forward(t *testing.T) {
	c, _, _, _ := newTestClassifier(t)

	out := c.Classify(context.Background(), userEvent("qual o horário de funcionamento?"), testOwner)
	assert.Equal(t, KindForward, out.Kind)
	assert.Equal(t, "qual o horário de funcionamento?", out.Text)
}

func TestClassify_EmptyTextIgnored(t *testing.T) {
	c, _, _, _ := newTestClassifier(t)

	out := c.Classify(context.Background(), userEvent("   "), testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonIgnored, out.Reason)
}

func TestClassify_EchoConsumedExactlyOnce(t *testing.T) {
	c, _, markers, _ := newTestClassifier(t)
	ctx := context.Background()

	markers.Mark("sent-123")

	ev := Event{
		SessionID: testAgent,
		MessageID: "sent-123",
		From:      testUser,
		Text:      "resposta do bot",
		FromSelf:  true,
	}

	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonEcho, out.Reason)

	// Marker consumed: the same id now reads as a fresh self-message and,
	// being addressed to a non-owner counterparty, triggers a takeover.
	out = c.Classify(ctx, ev, testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonTakeover, out.Reason)
}

func TestClassify_OwnerTakeover(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	ev := Event{
		SessionID: testAgent,
		MessageID: "manual-reply-1",
		From:      testUser,
		Text:      "deixa que eu respondo",
		FromSelf:  true,
	}

	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonTakeover, out.Reason)

	blocked, err := ledger.IsBlocked(ctx, testAgent, testUser)
	require.NoError(t, err)
	assert.True(t, blocked, "takeover must mute the counterparty")

	info, err := ledger.GetInfo(ctx, testAgent, testUser)
	require.NoError(t, err)
	assert.Equal(t, store.BlockedByOwnerTakeover, info.BlockedBy)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), info.BlockedUntil, time.Minute)
}

func TestClassify_SelfMessageIgnoredCases(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   Event
	}{
		{
			name: "group",
			ev:   Event{SessionID: testAgent, MessageID: "m1", From: "123-456@g.us", FromSelf: true, IsGroup: true},
		},
		{
			name: "broadcast",
			ev:   Event{SessionID: testAgent, MessageID: "m2", From: "status@broadcast", FromSelf: true, IsBroadcast: true},
		},
		{
			name: "own number",
			ev:   Event{SessionID: testAgent, MessageID: "m3", From: "5511912345678@s.whatsapp.net", FromSelf: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.Classify(ctx, tt.ev, testOwner)
			assert.Equal(t, KindDrop, out.Kind)
			assert.Equal(t, ReasonIgnored, out.Reason)

			blocked, err := ledger.IsBlocked(ctx, testAgent, tt.ev.From)
			require.NoError(t, err)
			assert.False(t, blocked, "ignored self-messages must not create blocks")
		})
	}
}

func TestClassify_SelfMessageNoOwnerPhoneConfigured(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	ev := Event{SessionID: testAgent, MessageID: "m1", From: testUser, FromSelf: true}
	out := c.Classify(ctx, ev, "")
	assert.Equal(t, ReasonIgnored, out.Reason, "takeover needs a configured owner phone")

	blocked, err := ledger.IsBlocked(ctx, testAgent, testUser)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestClassify_BlockCommandFromOwner(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	ev := Event{
		SessionID: testAgent,
		MessageID: "m1",
		From:      "5511912345678@s.whatsapp.net", // the owner's own chat
		Text:      "### 2h",
	}

	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonAck, out.Reason)

	info, err := ledger.GetInfo(ctx, testAgent, ev.From)
	require.NoError(t, err)
	assert.Equal(t, store.BlockedByManual, info.BlockedBy)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), info.BlockedUntil, time.Minute)
}

func TestClassify_BlockCommandDefaultDuration(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	ev := Event{
		SessionID: testAgent,
		MessageID: "m1",
		From:      "5511912345678@s.whatsapp.net",
		Text:      "###",
	}

	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, ReasonAck, out.Reason)

	info, err := ledger.GetInfo(ctx, testAgent, ev.From)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), info.BlockedUntil, time.Minute)
}

func TestClassify_BlockCommandBadDurationLeavesStateUnchanged(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	ev := Event{
		SessionID: testAgent,
		MessageID: "m1",
		From:      "5511912345678@s.whatsapp.net",
		Text:      "### 0", // digits without a valid positive duration
	}

	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, ReasonAck, out.Reason)

	blocked, err := ledger.IsBlocked(ctx, testAgent, ev.From)
	require.NoError(t, err)
	assert.False(t, blocked, "failed parse must not create a block")
}

func TestClassify_BlockCommandFromNonOwner(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	out := c.Classify(ctx, userEvent("### 2h"), testOwner)
	assert.Equal(t, KindReplyDirectly, out.Kind)
	assert.Equal(t, "Comando não reconhecido.", out.Text)

	blocked, err := ledger.IsBlocked(ctx, testAgent, testUser)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestClassify_BlockCommandNoOwnerConfigured(t *testing.T) {
	c, _, _, _ := newTestClassifier(t)

	out := c.Classify(context.Background(), userEvent("###"), "")
	assert.Equal(t, KindReplyDirectly, out.Kind)
	assert.Contains(t, out.Text, "Configure o número")
}

func TestClassify_UnblockCommand(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	ownerChat := "5511912345678@s.whatsapp.net"
	_, err := ledger.Block(ctx, testAgent, ownerChat, store.BlockedByManual, "24h")
	require.NoError(t, err)

	ev := Event{SessionID: testAgent, MessageID: "m1", From: ownerChat, Text: "##ativar"}
	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonAck, out.Reason)

	blocked, err := ledger.IsBlocked(ctx, testAgent, ownerChat)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestClassify_UnblockCommandFromNonOwner(t *testing.T) {
	c, _, _, _ := newTestClassifier(t)

	out := c.Classify(context.Background(), userEvent("##ativar"), testOwner)
	assert.Equal(t, KindReplyDirectly, out.Kind)
	assert.Equal(t, "Comando não reconhecido.", out.Text)
}

func TestClassify_HumanEscalation(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	phrases := []string{
		"quero falar com um atendente",
		"Preciso falar com atendente",
		"ATENDENTE HUMANO por favor",
		"não quero falar com robô",
		"me transfere",
	}

	for _, phrase := range phrases {
		t.Run(phrase, func(t *testing.T) {
			out := c.Classify(ctx, userEvent(phrase), testOwner)
			assert.Equal(t, KindReplyDirectly, out.Kind)
			assert.Contains(t, out.Text, "atendente")
		})
	}

	info, err := ledger.GetInfo(ctx, testAgent, testUser)
	require.NoError(t, err)
	assert.Equal(t, store.BlockedBySystem, info.BlockedBy)
}

func TestClassify_BlockedCounterpartyDropped(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	_, err := ledger.Block(ctx, testAgent, testUser, store.BlockedBySystem, "24h")
	require.NoError(t, err)

	out := c.Classify(ctx, userEvent("uma pergunta qualquer"), testOwner)
	assert.Equal(t, KindDrop, out.Kind)
	assert.Equal(t, ReasonBlocked, out.Reason)
}

func TestClassify_CommandsWinOverBlockCheck(t *testing.T) {
	c, ledger, _, _ := newTestClassifier(t)
	ctx := context.Background()

	// The owner's own chat is muted, but the unblock command must still work.
	ownerChat := "5511912345678@s.whatsapp.net"
	_, err := ledger.Block(ctx, testAgent, ownerChat, store.BlockedByManual, "24h")
	require.NoError(t, err)

	ev := Event{SessionID: testAgent, MessageID: "m1", From: ownerChat, Text: "##ativar"}
	out := c.Classify(ctx, ev, testOwner)
	assert.Equal(t, ReasonAck, out.Reason)

	blocked, err := ledger.IsBlocked(ctx, testAgent, ownerChat)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestSameDigits(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"+55 11 91234-5678", "5511912345678", true},
		{"5511912345678@s.whatsapp.net", "11 91234-5678", true},
		{"5511912345678", "5511988887777", false},
		{"", "5511912345678", false},
		{"abc", "def", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sameDigits(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

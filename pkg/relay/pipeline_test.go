package relay

import (
	"context"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/picorelay/pkg/access"
	"github.com/tinyland-inc/picorelay/pkg/commands"
	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/router"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

const (
	owner  = int64(601668306)
	source = int64(-1001234567890)
	dest   = "-1009876543210"
)

type sent struct {
	dest      string
	messageID int
	text      string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) Deliver(_ context.Context, d string, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{dest: d, messageID: ev.MessageID})
	return nil
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{dest: chatID, text: text})
	return nil
}

type harness struct {
	pipeline *Pipeline
	store    *store.Store
	sender   *fakeSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.New(store.NewMemoryBackend(), store.WithBootstrap(owner, nil))
	require.NoError(t, s.Load(context.Background()))

	sender := &fakeSender{}
	engine := delivery.NewEngine(sender, s)
	dispatcher := commands.NewDispatcher(s, access.NewChecker(s), engine)
	p := New(events.NewNormalizer(128), router.New(s), engine, dispatcher, sender)
	return &harness{pipeline: p, store: s, sender: sender}
}

func groupUpdate(updateID, messageID int, from int64, text string) telego.Update {
	msg := &telego.Message{
		MessageID: messageID,
		Chat:      telego.Chat{ID: source, Type: "supergroup", Title: "Source"},
		Text:      text,
	}
	if from != 0 {
		msg.From = &telego.User{ID: from, FirstName: "Op"}
	}
	return telego.Update{UpdateID: updateID, Message: msg}
}

func TestScenario_ActiveRuleForwards(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.UpsertRule(context.Background(), "-1001234567890", []string{dest}, true, owner)
	require.NoError(t, err)

	res := h.pipeline.Handle(context.Background(), groupUpdate(1, 42, 555, "hello"))
	require.NoError(t, res.Err)
	assert.Equal(t, StageDeliver, res.Stage)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, delivery.Delivered, res.Attempts[0].Outcome)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, sent{dest: dest, messageID: 42}, h.sender.sent[0])
	assert.Equal(t, uint64(1), h.store.Stats().TotalDelivered)
}

func TestScenario_InactiveRuleSkips(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.UpsertRule(context.Background(), "-1001234567890", []string{dest}, false, owner)
	require.NoError(t, err)

	res := h.pipeline.Handle(context.Background(), groupUpdate(1, 42, 555, "hello"))
	assert.Equal(t, StageRoute, res.Stage)
	assert.False(t, res.Decision.Forward)
	assert.Equal(t, router.SkipRuleInactive, res.Decision.Reason)
	assert.Empty(t, h.sender.sent)
	assert.Zero(t, h.store.Stats().Attempts())
}

func TestDuplicateUpdateDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.UpsertRule(context.Background(), "-1001234567890", []string{dest}, true, owner)
	require.NoError(t, err)

	u := groupUpdate(7, 42, 555, "hello")
	h.pipeline.Handle(context.Background(), u)
	res := h.pipeline.Handle(context.Background(), u)

	assert.Equal(t, StageNormalize, res.Stage)
	assert.Equal(t, events.StatusDuplicate, res.Normalized.Status)
	assert.Len(t, h.sender.sent, 1)
}

func TestCommandsAreNotForwarded(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.UpsertRule(context.Background(), "-1001234567890", []string{dest}, true, owner)
	require.NoError(t, err)

	res := h.pipeline.Handle(context.Background(), groupUpdate(1, 42, owner, "/deactivate"))
	assert.Equal(t, StageCommand, res.Stage)
	require.NotNil(t, res.Reply)
	require.NoError(t, res.Reply.Err)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "-1001234567890", h.sender.sent[0].dest)
	assert.Contains(t, h.sender.sent[0].text, "paused")

	rule, _ := h.store.GetRule("-1001234567890")
	assert.False(t, rule.Active)
}

func TestUnauthorizedCommandChangesNothing(t *testing.T) {
	h := newHarness(t)

	res := h.pipeline.Handle(context.Background(), groupUpdate(1, 42, 999, "/set_source"))
	require.NotNil(t, res.Reply)
	assert.ErrorIs(t, res.Reply.Err, access.ErrUnauthorized)
	assert.Empty(t, h.store.ListRules())
}

func TestCommandWithoutSenderIsDropped(t *testing.T) {
	h := newHarness(t)
	res := h.pipeline.Handle(context.Background(), groupUpdate(1, 42, 0, "/list"))
	assert.Equal(t, StageCommand, res.Stage)
	assert.Nil(t, res.Reply)
	assert.Empty(t, h.sender.sent)
}

func TestUnrecognizedUpdate(t *testing.T) {
	h := newHarness(t)
	res := h.pipeline.Handle(context.Background(), telego.Update{UpdateID: 3})
	assert.Equal(t, StageNormalize, res.Stage)
	assert.Equal(t, events.StatusUnrecognized, res.Normalized.Status)
	assert.NoError(t, res.Err)
}

type panickingEngine struct{}

func (panickingEngine) Deliver(context.Context, events.Event, store.Rule) []delivery.Attempt {
	panic("boom")
}

func TestPanicIsContained(t *testing.T) {
	s := store.New(store.NewMemoryBackend())
	require.NoError(t, s.Load(context.Background()))
	_, err := s.UpsertRule(context.Background(), "-1001234567890", []string{dest}, true, owner)
	require.NoError(t, err)
	p := New(events.NewNormalizer(8), router.New(s), panickingEngine{}, nil, nil)

	var res Result
	require.NotPanics(t, func() {
		res = p.Handle(context.Background(), groupUpdate(1, 1, 5, "x"))
	})
	assert.Equal(t, StagePanic, res.Stage)
	assert.ErrorContains(t, res.Err, "boom")

	res = p.Handle(context.Background(), telego.Update{UpdateID: 2})
	assert.Equal(t, StageNormalize, res.Stage)
}

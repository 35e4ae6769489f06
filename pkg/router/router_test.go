package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

const (
	sourceID = "-1001111111111"
	destID   = "-1002222222222"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(store.NewMemoryBackend())
	require.NoError(t, s.Load(context.Background()))
	return s
}

func groupEvent() events.Event {
	return events.Event{
		EventID:     1,
		ChatID:      sourceID,
		ChatKind:    events.ChatSupergroup,
		MessageID:   10,
		ContentKind: events.ContentText,
		Text:        "hello",
	}
}

func TestRoute_SkipChain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.UpsertRule(ctx, sourceID, []string{destID}, true, 1)
	require.NoError(t, err)
	r := New(s, WithExcludedContent("sticker"))

	tests := []struct {
		name   string
		mutate func(*events.Event)
		want   SkipReason
	}{
		{"private chat", func(e *events.Event) { e.ChatKind = events.ChatPrivate }, SkipNotAGroupSource},
		{"channel post", func(e *events.Event) { e.ChatKind = events.ChatChannel }, SkipNotAGroupSource},
		{"service precedes rule lookup", func(e *events.Event) { e.IsServiceEvent = true; e.ChatID = "-5" }, SkipServiceEvent},
		{"unknown source", func(e *events.Event) { e.ChatID = "-1009999" }, SkipNoRule},
		{"excluded content", func(e *events.Event) { e.ContentKind = events.ContentSticker }, SkipContentExcluded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := groupEvent()
			tt.mutate(&ev)
			d := r.Route(ev)
			assert.False(t, d.Forward)
			assert.Equal(t, tt.want, d.Reason)
		})
	}
}

func TestRoute_SignedSourceSurvivesReload(t *testing.T) {
	ctx := context.Background()
	b := store.NewMemoryBackend()
	s := store.New(b)
	require.NoError(t, s.Load(ctx))
	_, err := s.UpsertRule(ctx, "-0"+sourceID[1:], []string{"+" + destID[1:]}, true, 1)
	require.NoError(t, err)

	reloaded := store.New(b)
	require.NoError(t, reloaded.Load(ctx))

	d := New(reloaded).Route(groupEvent())
	require.True(t, d.Forward)
	assert.Equal(t, sourceID, d.Rule.SourceID)
	assert.Equal(t, []string{destID[1:]}, d.Rule.DestinationIDs)
}

func TestRoute_ForwardActiveRule(t *testing.T) {
	s := newStore(t)
	_, err := s.UpsertRule(context.Background(), sourceID, []string{destID}, true, 1)
	require.NoError(t, err)

	d := New(s).Route(groupEvent())
	require.True(t, d.Forward)
	assert.Equal(t, SkipNone, d.Reason)
	assert.Equal(t, []string{destID}, d.Rule.DestinationIDs)

	ev := groupEvent()
	ev.ChatKind = events.ChatGroup
	assert.True(t, New(s).Route(ev).Forward)
}

func TestRoute_InactiveRule(t *testing.T) {
	s := newStore(t)
	_, err := s.UpsertRule(context.Background(), sourceID, []string{destID}, false, 1)
	require.NoError(t, err)

	d := New(s).Route(groupEvent())
	assert.False(t, d.Forward)
	assert.Equal(t, SkipRuleInactive, d.Reason)
	assert.Equal(t, sourceID, d.Rule.SourceID)
}

func TestRoute_GlobalSwitch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.UpsertRule(ctx, sourceID, []string{destID}, true, 1)
	require.NoError(t, err)
	r := New(s)

	require.NoError(t, s.SetEnabled(ctx, false))
	assert.Equal(t, SkipRelayDisabled, r.Route(groupEvent()).Reason)

	require.NoError(t, s.SetEnabled(ctx, true))
	assert.True(t, r.Route(groupEvent()).Forward)
}

func TestRoute_SeesRuleChangesImmediately(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := New(s)

	assert.Equal(t, SkipNoRule, r.Route(groupEvent()).Reason)

	_, err := s.UpsertRule(ctx, sourceID, []string{destID}, true, 1)
	require.NoError(t, err)
	assert.True(t, r.Route(groupEvent()).Forward)

	_, err = s.SetActive(ctx, sourceID, false)
	require.NoError(t, err)
	assert.Equal(t, SkipRuleInactive, r.Route(groupEvent()).Reason)

	_, err = s.DeleteRule(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, SkipNoRule, r.Route(groupEvent()).Reason)
}

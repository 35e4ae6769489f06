package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner = int64(601668306)
	admin = int64(8588773170)
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newLoaded(t *testing.T, b Backend, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	s := New(b, opts...)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestLoad_FreshStateSeedsBootstrap(t *testing.T) {
	s := newLoaded(t, NewMemoryBackend(), WithBootstrap(owner, []int64{admin}))

	actors := s.Actors()
	assert.Equal(t, owner, actors.Owner)
	assert.Equal(t, []int64{admin}, actors.Admins)
	assert.True(t, s.Enabled())
	assert.Empty(t, s.ListRules())
}

func TestLoad_ExistingStateKeepsOwnerAndMergesAdmins(t *testing.T) {
	b := NewMemoryBackend()
	first := newLoaded(t, b, WithBootstrap(owner, nil))
	require.NoError(t, first.AddAdmin(context.Background(), 111))

	second := newLoaded(t, b, WithBootstrap(999, []int64{admin}))
	actors := second.Actors()
	assert.Equal(t, owner, actors.Owner)
	assert.ElementsMatch(t, []int64{111, admin}, actors.Admins)
}

func TestUpsertRule_NormalizesAndPreservesProvenance(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())

	r1, err := s.UpsertRule(ctx, "-1001", []string{"@news_channel", "-2002", "-2002"}, true, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"-2002", "@news_channel"}, r1.DestinationIDs)
	assert.Equal(t, owner, r1.CreatedBy)

	r2, err := s.UpsertRule(ctx, "-1001", []string{"-3003"}, false, admin)
	require.NoError(t, err)
	assert.Equal(t, owner, r2.CreatedBy)
	assert.Equal(t, r1.CreatedAt, r2.CreatedAt)
	assert.True(t, r2.UpdatedAt.After(r1.UpdatedAt))
	assert.False(t, r2.Active)

	got, ok := s.GetRule("-1001")
	require.True(t, ok)
	assert.Equal(t, []string{"-3003"}, got.DestinationIDs)
}

func TestUpsertRule_Validation(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())

	_, err := s.UpsertRule(ctx, "@group_handle", []string{"-2002"}, true, owner)
	assert.ErrorIs(t, err, ErrInvalidChatID)

	_, err = s.UpsertRule(ctx, "-1001", nil, true, owner)
	assert.ErrorIs(t, err, ErrNoDestinations)

	_, err = s.UpsertRule(ctx, "-1001", []string{"not a chat"}, true, owner)
	assert.ErrorIs(t, err, ErrInvalidChatID)

	assert.Empty(t, s.ListRules())
}

func TestGetRule_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())
	_, err := s.UpsertRule(ctx, "-1001", []string{"-2002"}, true, owner)
	require.NoError(t, err)

	r, _ := s.GetRule("-1001")
	r.DestinationIDs[0] = "-9999"

	again, _ := s.GetRule("-1001")
	assert.Equal(t, []string{"-2002"}, again.DestinationIDs)
}

func TestListRules_OrderedBySource(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())
	for _, src := range []string{"-300", "-100", "-200"} {
		_, err := s.UpsertRule(ctx, src, []string{"-1"}, true, owner)
		require.NoError(t, err)
	}

	var got []string
	for _, r := range s.ListRules() {
		got = append(got, r.SourceID)
	}
	assert.Equal(t, []string{"-100", "-200", "-300"}, got)
}

func TestDestinations_AddRemove(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())

	r, err := s.AddDestination(ctx, "-1001", "-2002", owner)
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.Equal(t, []string{"-2002"}, r.DestinationIDs)

	r, err = s.AddDestination(ctx, "-1001", "-3003", admin)
	require.NoError(t, err)
	assert.Equal(t, []string{"-2002", "-3003"}, r.DestinationIDs)
	assert.Equal(t, owner, r.CreatedBy)

	r, err = s.RemoveDestination(ctx, "-1001", "-2002")
	require.NoError(t, err)
	assert.Equal(t, []string{"-3003"}, r.DestinationIDs)

	_, err = s.RemoveDestination(ctx, "-1001", "-3003")
	assert.ErrorIs(t, err, ErrNoDestinations)

	_, err = s.RemoveDestination(ctx, "-4004", "-3003")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestDeleteRuleAndSetActive(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())
	_, err := s.UpsertRule(ctx, "-1001", []string{"-2002"}, true, owner)
	require.NoError(t, err)

	r, err := s.SetActive(ctx, "-1001", false)
	require.NoError(t, err)
	assert.False(t, r.Active)
	assert.Equal(t, []string{"-2002"}, r.DestinationIDs)

	_, err = s.SetActive(ctx, "-5", true)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	removed, err := s.DeleteRule(ctx, "-1001")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteRule(ctx, "-1001")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAdmins(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend(), WithBootstrap(owner, nil))

	require.NoError(t, s.AddAdmin(ctx, admin))
	require.NoError(t, s.AddAdmin(ctx, admin))
	assert.Equal(t, []int64{admin}, s.Actors().Admins)

	_, err := s.RemoveAdmin(ctx, owner)
	assert.ErrorIs(t, err, ErrOwnerImmutable)

	removed, err := s.RemoveAdmin(ctx, admin)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.Actors().Admins)
}

func TestRecordDelivery_Monotonic(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())

	prev := s.Stats()
	for i, ok := range []bool{true, false, true, true, false} {
		require.NoError(t, s.RecordDelivery(ctx, ok))
		cur := s.Stats()
		assert.GreaterOrEqual(t, cur.TotalDelivered, prev.TotalDelivered)
		assert.GreaterOrEqual(t, cur.TotalErrors, prev.TotalErrors)
		assert.Equal(t, uint64(i+1), cur.Attempts())
		require.NotNil(t, cur.LastDeliveryAt)
		prev = cur
	}
	assert.Equal(t, uint64(3), prev.TotalDelivered)
	assert.Equal(t, uint64(2), prev.TotalErrors)
}

func TestPersistenceError_KeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := newLoaded(t, b)
	b.SetSaveError(errors.New("disk full"))

	_, err := s.UpsertRule(ctx, "-1001", []string{"-2002"}, true, owner)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "upsert_rule", perr.Op)

	_, ok := s.GetRule("-1001")
	assert.True(t, ok)

	b.SetSaveError(nil)
	require.NoError(t, s.Save(ctx))

	reloaded := newLoaded(t, b)
	_, ok = reloaded.GetRule("-1001")
	assert.True(t, ok)
}

func TestDeferredStats_FlushOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := newLoaded(t, b, WithDeferredStats())

	require.NoError(t, s.RecordDelivery(ctx, true))
	require.NoError(t, s.RecordDelivery(ctx, false))
	assert.Equal(t, 0, b.Saves())

	require.NoError(t, s.FlushStats(ctx))
	assert.Equal(t, 1, b.Saves())

	require.NoError(t, s.FlushStats(ctx))
	assert.Equal(t, 1, b.Saves())

	reloaded := newLoaded(t, b)
	assert.Equal(t, uint64(1), reloaded.Stats().TotalDelivered)
	assert.Equal(t, uint64(1), reloaded.Stats().TotalErrors)
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "forward_db.json")
	b := NewFileBackend(path)

	st, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	s := newLoaded(t, b, WithBootstrap(owner, []int64{admin}))
	_, err = s.UpsertRule(ctx, "-1001", []string{"-2002", "@news_channel"}, true, owner)
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(ctx, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded := newLoaded(t, NewFileBackend(path))
	assert.False(t, reloaded.Enabled())
	assert.Equal(t, owner, reloaded.Actors().Owner)
	r, ok := reloaded.GetRule("-1001")
	require.True(t, ok)
	assert.Equal(t, []string{"-2002", "@news_channel"}, r.DestinationIDs)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDecodeState_RejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing version":   `{"rules": {}}`,
		"empty dests":       `{"version": 1, "rules": {"-1": {"source_id": "-1", "destination_ids": [], "active": true}}}`,
		"handle source key": `{"version": 1, "rules": {"@abcdef": {"source_id": "@abcdef", "destination_ids": ["-2"], "active": true}}}`,
		"mismatched key":    `{"version": 1, "rules": {"-1": {"source_id": "-3", "destination_ids": ["-2"], "active": true}}}`,
		"negative stats":    `{"version": 1, "rules": {}, "stats": {"total_delivered": -1}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			b := NewMemoryBackend()
			b.Seed([]byte(doc))
			err := New(b).Load(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestDecodeState_AcceptsMinimalDocument(t *testing.T) {
	b := NewMemoryBackend()
	b.Seed([]byte(`{"version": 1, "rules": {"-1001": {"source_id": "-1001", "destination_ids": ["-2002"], "active": true}}}`))

	s := New(b, WithBootstrap(owner, nil))
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, owner, s.Actors().Owner)
	assert.NotNil(t, s.Actors().Admins)
	assert.False(t, s.Stats().StartedAt.IsZero())
	assert.True(t, s.Enabled())
	_, ok := s.GetRule("-1001")
	assert.True(t, ok)
}

func TestDecodeState_KeepsExplicitDisabled(t *testing.T) {
	b := NewMemoryBackend()
	b.Seed([]byte(`{"version": 1, "enabled": false, "rules": {}}`))

	s := New(b)
	require.NoError(t, s.Load(context.Background()))
	assert.False(t, s.Enabled())
}

func TestUpsertRule_StoresCanonicalIDs(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := newLoaded(t, b, WithBootstrap(owner, nil))

	rule, err := s.UpsertRule(ctx, "+1001234", []string{"+2002", "-002003", "@news_channel"}, true, owner)
	require.NoError(t, err)
	assert.Equal(t, "1001234", rule.SourceID)
	assert.Equal(t, []string{"-2003", "2002", "@news_channel"}, rule.DestinationIDs)

	_, err = s.UpsertRule(ctx, "-00100123", []string{"-2002"}, true, owner)
	require.NoError(t, err)

	reloaded := newLoaded(t, b)
	got, ok := reloaded.GetRule("1001234")
	require.True(t, ok)
	assert.Equal(t, rule.DestinationIDs, got.DestinationIDs)
	_, ok = reloaded.GetRule("-100123")
	assert.True(t, ok)

	// lookups accept the same spellings the rule was created with
	_, ok = reloaded.GetRule("+1001234")
	assert.True(t, ok)
	deleted, err := reloaded.DeleteRule(ctx, "-00100123")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, ok = reloaded.GetRule("-100123")
	assert.False(t, ok)
}

func TestAddDestination_CanonicalizesIDs(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend(), WithBootstrap(owner, nil))

	_, err := s.AddDestination(ctx, "-0100", "+0200", owner)
	require.NoError(t, err)
	rule, ok := s.GetRule("-100")
	require.True(t, ok)
	assert.Equal(t, []string{"200"}, rule.DestinationIDs)

	_, err = s.AddDestination(ctx, "-100", "200", owner)
	require.NoError(t, err)
	rule, _ = s.GetRule("-100")
	assert.Len(t, rule.DestinationIDs, 1)
}

func TestStatsFlusher(t *testing.T) {
	_, err := NewStatsFlusher(New(NewMemoryBackend()), "not a cron")
	assert.Error(t, err)

	f, err := NewStatsFlusher(New(NewMemoryBackend()), "*/5 * * * *")
	require.NoError(t, err)
	ref := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	next, err := f.Next(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), next)
}

func TestStatsFlusher_FlushesOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewMemoryBackend()
	s := newLoaded(t, b, WithDeferredStats())
	require.NoError(t, s.RecordDelivery(ctx, true))

	f, err := NewStatsFlusher(s, "0 0 1 1 *")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("flusher did not stop")
	}
	assert.Equal(t, 1, b.Saves())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := newLoaded(t, NewMemoryBackend())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.UpsertRule(ctx, "-1001", []string{"-2002", "-3003"}, j%2 == 0, owner)
				_ = s.RecordDelivery(ctx, j%3 != 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if r, ok := s.GetRule("-1001"); ok {
					assert.Len(t, r.DestinationIDs, 2)
				}
				_ = s.ListRules()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8*50), s.Stats().Attempts())
}

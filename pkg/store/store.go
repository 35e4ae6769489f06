// Package store is the relay's Configuration Store: the rule table, the actor
// sets, the global enable flag and delivery statistics, persisted as a single
// document through a pluggable Backend.
//
// All reads return copies. Mutations take the write lock, update memory and
// then persist; a failed write is reported as *PersistenceError without
// rolling the change back.
package store

import (
	"context"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// Option configures a Store.
type Option func(*Store)

// WithBootstrap sets the identities seeded into a fresh state. The owner is
// also applied to an existing state that has none; admins are merged in.
func WithBootstrap(owner int64, admins []int64) Option {
	return func(s *Store) {
		s.bootOwner = owner
		s.bootAdmins = slices.Clone(admins)
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDeferredStats stops RecordDelivery from persisting synchronously.
// Stats are then written by FlushStats, typically driven by a StatsFlusher.
func WithDeferredStats() Option {
	return func(s *Store) { s.deferStats = true }
}

type Store struct {
	mu    sync.RWMutex
	state *State
	dirty bool

	// saveMu orders backend writes so the last snapshot taken is the last
	// one written.
	saveMu  sync.Mutex
	backend Backend

	bootOwner  int64
	bootAdmins []int64
	deferStats bool
	now        func() time.Time
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = newState(s.now())
	s.state.Actors.Owner = s.bootOwner
	s.state.Actors.Admins = append(s.state.Actors.Admins, s.bootAdmins...)
	return s
}

// Load replaces the in-memory state with the backend's document, or with a
// fresh bootstrap-seeded state when the backend has none.
func (s *Store) Load(ctx context.Context) error {
	st, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}

	fresh := st == nil
	if fresh {
		st = newState(s.now())
	}
	if st.Rules == nil {
		st.Rules = make(map[string]Rule)
	}
	if st.Actors.Admins == nil {
		st.Actors.Admins = []int64{}
	}
	if st.Stats.StartedAt.IsZero() {
		st.Stats.StartedAt = s.now()
	}
	if st.Actors.Owner == 0 {
		st.Actors.Owner = s.bootOwner
	}
	for _, id := range s.bootAdmins {
		if !slices.Contains(st.Actors.Admins, id) {
			st.Actors.Admins = append(st.Actors.Admins, id)
		}
	}
	st.Version = stateVersion

	s.mu.Lock()
	s.state = st
	s.dirty = false
	s.mu.Unlock()

	logger.InfoCF("store", "State loaded", map[string]any{
		"fresh":  fresh,
		"rules":  len(st.Rules),
		"admins": len(st.Actors.Admins),
	})
	return nil
}

// Save writes the current state to the backend.
func (s *Store) Save(ctx context.Context) error {
	return s.persist(ctx, "save")
}

func (s *Store) persist(ctx context.Context, op string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snap := s.state.clone()
	s.dirty = false
	s.mu.Unlock()

	if err := s.backend.Save(ctx, snap); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		logger.ErrorCF("store", "Failed to persist state", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// GetRule returns the rule for sourceID, if any.
func (s *Store) GetRule(sourceID string) (Rule, bool) {
	key := ruleKey(sourceID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.Rules[key]
	if !ok {
		return Rule{}, false
	}
	return r.clone(), true
}

// ListRules returns all rules ordered by source id.
func (s *Store) ListRules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(s.state.Rules))
	rules := make([]Rule, 0, len(keys))
	for _, k := range keys {
		rules = append(rules, s.state.Rules[k].clone())
	}
	return rules
}

// UpsertRule creates or replaces the rule for sourceID. Provenance of an
// existing rule is kept.
func (s *Store) UpsertRule(ctx context.Context, sourceID string, destinationIDs []string, active bool, actor int64) (Rule, error) {
	sourceID, err := CanonicalSourceID(sourceID)
	if err != nil {
		return Rule{}, err
	}
	dests, err := normalizeDestinations(destinationIDs)
	if err != nil {
		return Rule{}, err
	}

	now := s.now()
	s.mu.Lock()
	rule := Rule{
		SourceID:       sourceID,
		DestinationIDs: dests,
		Active:         active,
		CreatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if prev, ok := s.state.Rules[sourceID]; ok {
		rule.CreatedBy = prev.CreatedBy
		rule.CreatedAt = prev.CreatedAt
	}
	s.state.Rules[sourceID] = rule
	s.mu.Unlock()

	return rule.clone(), s.persist(ctx, "upsert_rule")
}

// AddDestination adds destID to the rule for sourceID, creating an active
// rule when none exists.
func (s *Store) AddDestination(ctx context.Context, sourceID, destID string, actor int64) (Rule, error) {
	sourceID, err := CanonicalSourceID(sourceID)
	if err != nil {
		return Rule{}, err
	}
	destID, err = CanonicalDestinationID(destID)
	if err != nil {
		return Rule{}, err
	}

	now := s.now()
	s.mu.Lock()
	rule, ok := s.state.Rules[sourceID]
	if !ok {
		rule = Rule{SourceID: sourceID, Active: true, CreatedBy: actor, CreatedAt: now}
	}
	dests, _ := normalizeDestinations(append(slices.Clone(rule.DestinationIDs), destID))
	rule.DestinationIDs = dests
	rule.UpdatedAt = now
	s.state.Rules[sourceID] = rule
	s.mu.Unlock()

	return rule.clone(), s.persist(ctx, "add_destination")
}

// RemoveDestination drops destID from the rule. Removing the last
// destination is refused; delete the rule instead.
func (s *Store) RemoveDestination(ctx context.Context, sourceID, destID string) (Rule, error) {
	sourceID = ruleKey(sourceID)
	if canonical, err := CanonicalDestinationID(destID); err == nil {
		destID = canonical
	}
	s.mu.Lock()
	rule, ok := s.state.Rules[sourceID]
	if !ok {
		s.mu.Unlock()
		return Rule{}, ErrRuleNotFound
	}
	idx := slices.Index(rule.DestinationIDs, destID)
	if idx < 0 {
		s.mu.Unlock()
		return rule.clone(), nil
	}
	if len(rule.DestinationIDs) == 1 {
		s.mu.Unlock()
		return rule.clone(), ErrNoDestinations
	}
	rule.DestinationIDs = slices.Delete(slices.Clone(rule.DestinationIDs), idx, idx+1)
	rule.UpdatedAt = s.now()
	s.state.Rules[sourceID] = rule
	s.mu.Unlock()

	return rule.clone(), s.persist(ctx, "remove_destination")
}

// DeleteRule removes the rule for sourceID and reports whether it existed.
func (s *Store) DeleteRule(ctx context.Context, sourceID string) (bool, error) {
	sourceID = ruleKey(sourceID)
	s.mu.Lock()
	if _, ok := s.state.Rules[sourceID]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.state.Rules, sourceID)
	s.mu.Unlock()

	return true, s.persist(ctx, "delete_rule")
}

// SetActive toggles a rule without touching its destinations.
func (s *Store) SetActive(ctx context.Context, sourceID string, active bool) (Rule, error) {
	sourceID = ruleKey(sourceID)
	s.mu.Lock()
	rule, ok := s.state.Rules[sourceID]
	if !ok {
		s.mu.Unlock()
		return Rule{}, ErrRuleNotFound
	}
	rule.Active = active
	rule.UpdatedAt = s.now()
	s.state.Rules[sourceID] = rule
	s.mu.Unlock()

	return rule.clone(), s.persist(ctx, "set_active")
}

// Enabled reports the global relay switch.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Enabled
}

func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.state.Enabled = enabled
	s.mu.Unlock()
	return s.persist(ctx, "set_enabled")
}

// Actors returns a copy of the owner and admin sets.
func (s *Store) Actors() Actors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Actors.clone()
}

func (s *Store) AddAdmin(ctx context.Context, id int64) error {
	s.mu.Lock()
	if slices.Contains(s.state.Actors.Admins, id) {
		s.mu.Unlock()
		return nil
	}
	s.state.Actors.Admins = append(s.state.Actors.Admins, id)
	s.mu.Unlock()
	return s.persist(ctx, "add_admin")
}

// RemoveAdmin drops id from the admin set. The owner is not an admin entry
// and cannot be removed.
func (s *Store) RemoveAdmin(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	if id == s.state.Actors.Owner {
		s.mu.Unlock()
		return false, ErrOwnerImmutable
	}
	idx := slices.Index(s.state.Actors.Admins, id)
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.state.Actors.Admins = slices.Delete(s.state.Actors.Admins, idx, idx+1)
	s.mu.Unlock()
	return true, s.persist(ctx, "remove_admin")
}

// RecordDelivery counts one resolved delivery attempt.
func (s *Store) RecordDelivery(ctx context.Context, delivered bool) error {
	now := s.now()
	s.mu.Lock()
	if delivered {
		s.state.Stats.TotalDelivered++
	} else {
		s.state.Stats.TotalErrors++
	}
	s.state.Stats.LastDeliveryAt = &now
	s.dirty = true
	deferred := s.deferStats
	s.mu.Unlock()

	if deferred {
		return nil
	}
	return s.persist(ctx, "record_delivery")
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Stats.clone()
}

// FlushStats persists pending changes, if any.
func (s *Store) FlushStats(ctx context.Context) error {
	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if !dirty {
		return nil
	}
	return s.persist(ctx, "flush_stats")
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ruleKey maps a source id to the key rules are stored under. Ids that are
// not valid sources are returned trimmed and simply match no rule.
func ruleKey(sourceID string) string {
	if canonical, err := CanonicalSourceID(sourceID); err == nil {
		return canonical
	}
	return strings.TrimSpace(sourceID)
}

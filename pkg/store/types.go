package store

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const stateVersion = 1

var (
	ErrRuleNotFound   = errors.New("rule not found")
	ErrNoDestinations = errors.New("rule needs at least one destination")
	ErrInvalidChatID  = errors.New("invalid chat id")
	ErrOwnerImmutable = errors.New("owner cannot be changed")
)

// PersistenceError reports a failed write to the backend. The in-memory
// state already reflects the mutation that triggered the write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Rule forwards every eligible message of SourceID to DestinationIDs.
type Rule struct {
	SourceID       string    `json:"source_id"`
	DestinationIDs []string  `json:"destination_ids"`
	Active         bool      `json:"active"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (r Rule) clone() Rule {
	r.DestinationIDs = slices.Clone(r.DestinationIDs)
	return r
}

type Actors struct {
	Owner  int64   `json:"owner,omitempty"`
	Admins []int64 `json:"admins"`
}

func (a Actors) clone() Actors {
	a.Admins = slices.Clone(a.Admins)
	return a
}

type Stats struct {
	TotalDelivered uint64     `json:"total_delivered"`
	TotalErrors    uint64     `json:"total_errors"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
}

// Attempts is the number of delivery attempts recorded so far.
func (s Stats) Attempts() uint64 {
	return s.TotalDelivered + s.TotalErrors
}

func (s Stats) clone() Stats {
	if s.LastDeliveryAt != nil {
		t := *s.LastDeliveryAt
		s.LastDeliveryAt = &t
	}
	return s
}

// State is the persisted document.
type State struct {
	Version int             `json:"version"`
	Enabled bool            `json:"enabled"`
	Rules   map[string]Rule `json:"rules"`
	Actors  Actors          `json:"actors"`
	Stats   Stats           `json:"stats"`
}

func newState(now time.Time) *State {
	return &State{
		Version: stateVersion,
		Enabled: true,
		Rules:   make(map[string]Rule),
		Actors:  Actors{Admins: []int64{}},
		Stats:   Stats{StartedAt: now},
	}
}

func (s *State) clone() *State {
	cp := &State{
		Version: s.Version,
		Enabled: s.Enabled,
		Rules:   make(map[string]Rule, len(s.Rules)),
		Actors:  s.Actors.clone(),
		Stats:   s.Stats.clone(),
	}
	for k, r := range s.Rules {
		cp.Rules[k] = r.clone()
	}
	return cp
}

var handlePattern = regexp.MustCompile(`^@[A-Za-z0-9_]{5,32}$`)

// CanonicalSourceID accepts numeric chat ids only: inbound events always
// carry the numeric id, so a handle could never match. The result is the
// form events carry, so "+1001" and "-0100" are stored as "1001" and "-100".
func CanonicalSourceID(id string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n == 0 {
		return "", fmt.Errorf("%w: source %q must be a numeric chat id", ErrInvalidChatID, id)
	}
	return strconv.FormatInt(n, 10), nil
}

// CanonicalDestinationID accepts a numeric chat id, returned in canonical
// decimal form, or a public @handle.
func CanonicalDestinationID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if handlePattern.MatchString(id) {
		return id, nil
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n != 0 {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("%w: destination %q must be a numeric chat id or @handle", ErrInvalidChatID, id)
}

// normalizeDestinations trims, validates, de-duplicates and sorts ids.
func normalizeDestinations(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		canonical, err := CanonicalDestinationID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return nil, ErrNoDestinations
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

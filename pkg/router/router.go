// Package router decides, per event, whether and where to relay it.
package router

import (
	"slices"

	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/logger"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipNotAGroupSource SkipReason = "not_a_group_source"
	SkipServiceEvent    SkipReason = "service_event"
	SkipRelayDisabled   SkipReason = "relay_disabled"
	SkipNoRule          SkipReason = "no_rule"
	SkipRuleInactive    SkipReason = "rule_inactive"
	SkipContentExcluded SkipReason = "content_excluded"
)

// Decision is Forward with the matched rule, or a skip with its reason.
type Decision struct {
	Forward bool
	Reason  SkipReason
	Rule    store.Rule
}

// RuleSource is the read side of the configuration store.
type RuleSource interface {
	GetRule(sourceID string) (store.Rule, bool)
	Enabled() bool
}

type Router struct {
	rules    RuleSource
	excluded []events.ContentKind
}

type Option func(*Router)

// WithExcludedContent skips events whose content kind is listed.
func WithExcludedContent(kinds ...string) Option {
	return func(r *Router) {
		for _, k := range kinds {
			r.excluded = append(r.excluded, events.ContentKind(k))
		}
	}
}

func New(rules RuleSource, opts ...Option) *Router {
	r := &Router{rules: rules}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route reads the rule table on every call, so a rule change is visible to
// the next event.
func (r *Router) Route(ev events.Event) Decision {
	d := r.route(ev)
	if !d.Forward {
		logger.DebugCF("router", "Event skipped", map[string]any{
			"event_id": ev.EventID,
			"chat_id":  ev.ChatID,
			"reason":   string(d.Reason),
		})
	}
	return d
}

func (r *Router) route(ev events.Event) Decision {
	if !ev.ChatKind.IsGroup() {
		return skip(SkipNotAGroupSource)
	}
	if ev.IsServiceEvent {
		return skip(SkipServiceEvent)
	}
	if !r.rules.Enabled() {
		return skip(SkipRelayDisabled)
	}
	rule, ok := r.rules.GetRule(ev.ChatID)
	if !ok {
		return skip(SkipNoRule)
	}
	if !rule.Active {
		return Decision{Reason: SkipRuleInactive, Rule: rule}
	}
	if slices.Contains(r.excluded, ev.ContentKind) {
		return Decision{Reason: SkipContentExcluded, Rule: rule}
	}
	return Decision{Forward: true, Rule: rule}
}

func skip(reason SkipReason) Decision {
	return Decision{Reason: reason}
}

package rules

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

func withStore(ctx context.Context, fn func(s *store.Store, owner int64) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	s, err := internal.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, cfg.Access.OwnerID)
}

func listCmd(ctx context.Context, out io.Writer) error {
	return withStore(ctx, func(s *store.Store, _ int64) error {
		rules := s.ListRules()
		if len(rules) == 0 {
			fmt.Fprintln(out, "No relay rules.")
			return nil
		}
		if !s.Enabled() {
			fmt.Fprintln(out, "Relaying is disabled.")
		}
		for _, r := range rules {
			state := "active"
			if !r.Active {
				state = "paused"
			}
			fmt.Fprintf(out, "%s -> %s (%s)\n", r.SourceID, strings.Join(r.DestinationIDs, ", "), state)
		}
		return nil
	})
}

func addCmd(ctx context.Context, out io.Writer, source string, dests []string, active bool) error {
	return withStore(ctx, func(s *store.Store, owner int64) error {
		rule, err := s.UpsertRule(ctx, source, dests, active, owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ %s -> %s\n", rule.SourceID, strings.Join(rule.DestinationIDs, ", "))
		return nil
	})
}

func removeCmd(ctx context.Context, out io.Writer, source string) error {
	return withStore(ctx, func(s *store.Store, _ int64) error {
		removed, err := s.DeleteRule(ctx, source)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: %s", store.ErrRuleNotFound, source)
		}
		fmt.Fprintf(out, "✓ Rule for %s removed\n", source)
		return nil
	})
}

func setActiveCmd(ctx context.Context, out io.Writer, source string, active bool) error {
	return withStore(ctx, func(s *store.Store, _ int64) error {
		rule, err := s.SetActive(ctx, source, active)
		if err != nil {
			return err
		}
		state := "active"
		if !rule.Active {
			state = "paused"
		}
		fmt.Fprintf(out, "✓ Rule for %s is %s\n", rule.SourceID, state)
		return nil
	})
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAllFailed is returned when no backend in a [Group] produced a result.
var ErrAllFailed = errors.New("all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds backends of one provider kind, each behind its own [Breaker],
// in the order they are tried. Add members before the group is shared;
// calls are safe for concurrent use afterwards.
type Group[T any] struct {
	kind    string
	opts    []BreakerOption
	members []member[T]
}

// NewGroup returns a group of the given kind ("stt", "translate", "ocr")
// whose first member is primary. opts configure every member's breaker.
func NewGroup[T any](kind, primaryName string, primary T, opts ...BreakerOption) *Group[T] {
	g := &Group[T]{kind: kind, opts: opts}
	g.Add(primaryName, primary)
	return g
}

// Add appends a backend tried after the existing members.
func (g *Group[T]) Add(name string, v T) {
	g.members = append(g.members, member[T]{
		name:    name,
		value:   v,
		breaker: NewBreaker(g.kind+"/"+name, g.opts...),
	})
}

// Names lists the members in the order they are tried.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// States reports each member's breaker state keyed by member name.
func (g *Group[T]) States() map[string]State {
	states := make(map[string]State, len(g.members))
	for _, m := range g.members {
		states[m.name] = m.breaker.State()
	}
	return states
}

// Healthy returns nil while at least one member accepts calls.
func (g *Group[T]) Healthy(context.Context) error {
	var open []string
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return nil
		}
		open = append(open, m.name)
	}
	return fmt.Errorf("%s: circuit open for %s", g.kind, strings.Join(open, ", "))
}

// Call runs fn against each member until one succeeds. Members with an open
// breaker are skipped. The walk stops as soon as ctx is done. When every
// member fails the error wraps [ErrAllFailed] and each member's error.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs = []error{ErrAllFailed}
	)
	for _, m := range g.members {
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s %s: %w", g.kind, m.name, err)
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "kind", g.kind, "provider", m.name)
		} else {
			slog.Warn("provider failed, trying next", "kind", g.kind, "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%s: %w", g.kind, errors.Join(errs...))
}

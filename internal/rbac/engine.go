package rbac

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// PermissionChecker resolves direct permissions; *Store implements it.
type PermissionChecker interface {
	CheckGuard(g Guard) error
	HasPermission(p *Principal, name string, guard Guard) (bool, error)
}

// DecisionObserver is notified of every decision.
type DecisionObserver interface {
	ObserveDecision(guard, resource, verb, outcome string)
}

var recognizedVerbs = map[string]struct{}{
	shared.VerbIndex:   {},
	shared.VerbShow:    {},
	shared.VerbStore:   {},
	shared.VerbUpdate:  {},
	shared.VerbDestroy: {},
	shared.VerbDelete:  {},
	shared.VerbRestore: {},
}

// IsDestructive reports whether verb removes the target.
func IsDestructive(verb string) bool {
	return verb == shared.VerbDestroy || verb == shared.VerbDelete
}

// Engine combines base permission checks with hierarchy overrides.
type Engine struct {
	checker   PermissionChecker
	hierarchy *HierarchyResolver
	guard     Guard
	sink      audit.Sink
	observer  DecisionObserver
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithHierarchy replaces the default hierarchy resolver.
func WithHierarchy(h *HierarchyResolver) EngineOption {
	return func(e *Engine) { e.hierarchy = h }
}

// WithAuditSink records destructive decisions on principals.
func WithAuditSink(s audit.Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithObserver installs a decision observer, typically metrics.
func WithObserver(o DecisionObserver) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds an Engine evaluating against guard.
func NewEngine(checker PermissionChecker, guard Guard, opts ...EngineOption) *Engine {
	e := &Engine{
		checker:   checker,
		hierarchy: NewHierarchyResolver(),
		guard:     guard,
		sink:      audit.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Guard returns the guard the engine evaluates against.
func (e *Engine) Guard() Guard {
	return e.guard
}

// ForGuard returns a copy of the engine bound to g.
func (e *Engine) ForGuard(g Guard) *Engine {
	clone := *e
	clone.guard = g
	return &clone
}

// Authorize decides whether p may perform verb on resource, optionally against
// target. Ordinary denials are returned as a Decision; an error is returned
// only for misconfiguration (unknown verb or guard, empty resource).
func (e *Engine) Authorize(ctx context.Context, p *Principal, resource, verb string, target Target) (Decision, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return Decision{}, fmt.Errorf("%w: empty resource type", ErrInvalidDefinition)
	}
	if _, ok := recognizedVerbs[verb]; !ok {
		return Decision{}, fmt.Errorf("%w: %q on %s", ErrUnknownAction, verb, resource)
	}
	if err := e.checker.CheckGuard(e.guard); err != nil {
		return Decision{}, err
	}

	d, err := e.decide(p, resource, verb, target)
	if err != nil {
		return Decision{}, err
	}
	e.observe(resource, verb, d)
	e.record(ctx, p, resource, verb, target, d)
	return d, nil
}

func (e *Engine) decide(p *Principal, resource, verb string, target Target) (Decision, error) {
	if p != nil {
		if reason := p.blockReason(); reason != "" {
			return Forbid(reason), nil
		}
	}

	// Published pages are public; the caller filters listings to published items.
	if resource == shared.ResourcePages {
		switch verb {
		case shared.VerbIndex:
			return Allow(), nil
		case shared.VerbShow:
			if isPublished(target) {
				return Allow(), nil
			}
		}
	}

	if p == nil {
		return Unauthenticated(), nil
	}

	ok, err := e.checker.HasPermission(p, shared.Permission(resource, verb), e.guard)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Forbid(ReasonMissingPermission), nil
	}

	if IsDestructive(verb) {
		if tp := targetPrincipal(target); tp != nil {
			if d := e.hierarchy.EvaluateHierarchy(p, tp, e.guard); !d.Allowed {
				return d, nil
			}
		}
	}
	return Allow(), nil
}

func (e *Engine) observe(resource, verb string, d Decision) {
	if e.observer == nil {
		return
	}
	outcome := "allow"
	switch d.Kind {
	case DenyUnauthenticated:
		outcome = "unauthenticated"
	case DenyForbidden:
		outcome = "forbidden"
	}
	e.observer.ObserveDecision(string(e.guard), resource, verb, outcome)
}

func (e *Engine) record(ctx context.Context, p *Principal, resource, verb string, target Target, d Decision) {
	tp := targetPrincipal(target)
	if !IsDestructive(verb) || tp == nil || p == nil {
		return
	}
	name := audit.EventDestroyAllowed
	if !d.Allowed {
		name = audit.EventDestroyDenied
	}
	e.sink.Record(ctx, audit.Event{
		ActorID:  p.ID,
		Name:     name,
		Guard:    string(e.guard),
		Entity:   resource,
		EntityID: strconv.FormatInt(tp.ID, 10),
		Roles:    tp.RoleNames(e.guard),
		Reason:   d.Reason,
	})
}

func isPublished(t Target) bool {
	switch c := t.(type) {
	case Content:
		return c.Published
	case *Content:
		return c != nil && c.Published
	}
	return false
}

func targetPrincipal(t Target) *Principal {
	p, _ := t.(*Principal)
	return p
}

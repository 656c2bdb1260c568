package registry

import "github.com/forattini-dev/raffel-sub006/envelope"

// Guard expresses an authorization rule attached to a registered handler.
// The original (distilled) design modeled this as a dynamic union of
// booleans, scope strings, scope lists, closures and role/scope objects;
// Design Notes §9 calls for replacing that with an explicit tagged variant
// in Go, which is what GuardKind/Guard below provide.
type GuardKind int

const (
	// GuardAllow always permits the call.
	GuardAllow GuardKind = iota
	// GuardDeny always rejects the call.
	GuardDeny
	// GuardScope requires a single scope to be present.
	GuardScope
	// GuardAnyScope requires at least one of several scopes to be present.
	GuardAnyScope
	// GuardFunc delegates the decision to an arbitrary predicate.
	GuardFunc
	// GuardObject requires a role and/or scopes and/or a custom check, all
	// of which must pass (an empty Object guard always passes).
	GuardObject
)

// GuardFn is the signature for a GuardFunc or the Check field of a
// GuardObject: it receives the live Context and decides pass/fail.
type GuardFn func(ctx *envelope.Context) bool

// Guard is a tagged variant over the five shapes above. Construct one
// with the Allow/Deny/Scope/AnyScope/Func/Object constructors rather than
// setting fields directly.
type Guard struct {
	kind    GuardKind
	scope   string
	scopes  []string
	fn      GuardFn
	role    string
	objFn   GuardFn
}

// Allow returns a Guard that always passes.
func Allow() Guard { return Guard{kind: GuardAllow} }

// Deny returns a Guard that always fails.
func Deny() Guard { return Guard{kind: GuardDeny} }

// Scope returns a Guard requiring scope to be present in ctx.Auth().Scopes.
func Scope(scope string) Guard { return Guard{kind: GuardScope, scope: scope} }

// AnyScope returns a Guard requiring at least one of scopes to be present.
func AnyScope(scopes ...string) Guard { return Guard{kind: GuardAnyScope, scopes: scopes} }

// Func returns a Guard delegating to an arbitrary predicate.
func Func(fn GuardFn) Guard { return Guard{kind: GuardFunc, fn: fn} }

// Object returns a Guard requiring role (if non-empty), all of scopes (if
// non-empty) and check (if non-nil) to all pass.
func Object(role string, scopes []string, check GuardFn) Guard {
	return Guard{kind: GuardObject, role: role, scopes: scopes, objFn: check}
}

// Evaluate decides whether ctx satisfies the guard.
func (g Guard) Evaluate(ctx *envelope.Context) bool {
	auth := ctx.Auth()
	switch g.kind {
	case GuardAllow:
		return true
	case GuardDeny:
		return false
	case GuardScope:
		return hasScope(auth.Scopes, g.scope)
	case GuardAnyScope:
		for _, s := range g.scopes {
			if hasScope(auth.Scopes, s) {
				return true
			}
		}
		return len(g.scopes) == 0
	case GuardFunc:
		if g.fn == nil {
			return false
		}
		return g.fn(ctx)
	case GuardObject:
		if g.role != "" && !hasRole(auth.Roles, g.role) {
			return false
		}
		for _, s := range g.scopes {
			if !hasScope(auth.Scopes, s) {
				return false
			}
		}
		if g.objFn != nil && !g.objFn(ctx) {
			return false
		}
		return true
	default:
		return false
	}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// Package quota limits non-subscribed usage by counted user turns. Denial
// is an outcome, never an error: no message is created, no request is sent,
// the UI is told to show the upgrade surface.
package quota

import (
	"github.com/rs/zerolog/log"
)

// DefaultThreshold is the free-tier user-message allowance.
const DefaultThreshold = 100

// Entitlement is the purchase/subscription collaborator. The engine
// consults it but does not own it.
type Entitlement interface {
	HasUnlimitedQuota() bool
}

// EntitlementFunc adapts a plain predicate.
type EntitlementFunc func() bool

func (f EntitlementFunc) HasUnlimitedQuota() bool {
	return f()
}

// Counter is the user-message projection, typically the entity store.
type Counter interface {
	CountUserMessages() int
}

// DeniedHook is invoked once per denial by Enforce.
type DeniedHook func(userMessages int, threshold int)

type Gate struct {
	entitlement Entitlement
	counter     Counter
	threshold   int
	onDenied    DeniedHook
}

type GateOption func(*Gate)

func WithThreshold(threshold int) GateOption {
	return func(g *Gate) {
		g.threshold = threshold
	}
}

func WithDeniedHook(hook DeniedHook) GateOption {
	return func(g *Gate) {
		g.onDenied = hook
	}
}

func NewGate(entitlement Entitlement, counter Counter, options ...GateOption) *Gate {
	ret := &Gate{
		entitlement: entitlement,
		counter:     counter,
		threshold:   DefaultThreshold,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// CanSend reports whether a new user turn may be sent.
func (g *Gate) CanSend() bool {
	if g.entitlement.HasUnlimitedQuota() {
		return true
	}
	return g.counter.CountUserMessages() < g.threshold
}

// Enforce checks the gate and, when it denies, raises the upgrade signal
// exactly once and reports the denial. Callers treat a denial as a no-op
// outcome, not an error.
func (g *Gate) Enforce() (allowed bool) {
	if g.CanSend() {
		return true
	}

	count := g.counter.CountUserMessages()
	log.Info().Int("user_messages", count).Int("threshold", g.threshold).Msg("quota denied")
	if g.onDenied != nil {
		g.onDenied(count, g.threshold)
	}
	return false
}

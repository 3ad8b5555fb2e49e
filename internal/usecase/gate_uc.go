package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/repository"
	"clinref-chat/internal/infra/metrics"
)

// Deny reasons surfaced to the UI.
const (
	DenyGuestLimit    = "guest-limit"
	DenyFreeTierLimit = "free-tier-limit"
)

// GateDecision is the outcome of one entitlement check.
type GateDecision struct {
	Allowed bool
	Reason  string // set on deny
	Counted bool   // true when rule 3 charged a unit
	Count   int    // counter value after the check (0 for uncounted allows)
}

type EntitlementGate interface {
	// CanStartGeneration decides whether a turn may proceed. Decision order:
	// privileged role, active subscription, counter below limit (charge one
	// unit, persisted immediately), deny. The charge happens before the
	// generation request goes out; a failed generation still consumed it.
	CanStartGeneration(ctx context.Context, identity *model.Identity, deviceID string) (GateDecision, error)

	// ResetAnonymous clears the device-scoped counter. Only external events
	// call this (guest sign-out); the gate itself never resets anything.
	ResetAnonymous(ctx context.Context, deviceID string) error
}

var _ EntitlementGate = (*entitlementGate)(nil)

type entitlementGate struct {
	local      repository.LocalState
	privileged map[string]struct{}
	limit      int
	log        *zerolog.Logger
}

func NewEntitlementGate(local repository.LocalState, privilegedRoles []string, limit int, logger *zerolog.Logger) *entitlementGate {
	priv := make(map[string]struct{}, len(privilegedRoles))
	for _, r := range privilegedRoles {
		priv[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	l := logger.With().Str("component", "EntitlementGate").Logger()
	return &entitlementGate{local: local, privileged: priv, limit: limit, log: &l}
}

func (g *entitlementGate) CanStartGeneration(ctx context.Context, identity *model.Identity, deviceID string) (GateDecision, error) {
	// Rule 1: privileged role, uncounted. Unknown or malformed role strings
	// are simply non-privileged.
	if identity.SignedIn() {
		if _, ok := g.privileged[strings.ToLower(strings.TrimSpace(identity.Role))]; ok {
			metrics.IncGate("allow", "privileged")
			return GateDecision{Allowed: true}, nil
		}
		// Rule 2: active subscription, uncounted.
		if identity.Subscription.Active {
			metrics.IncGate("allow", "subscription")
			return GateDecision{Allowed: true}, nil
		}
	}

	scope, key, denyReason := model.ScopeAnonymous, deviceID, DenyGuestLimit
	if identity.SignedIn() {
		scope, key, denyReason = model.ScopeIdentity, identity.ID, DenyFreeTierLimit
	}

	count, err := g.local.GetCounter(ctx, scope, key)
	if err != nil {
		return GateDecision{}, err
	}
	if count >= g.limit {
		g.log.Info().Str("scope", string(scope)).Int("count", count).Msg("generation denied")
		metrics.IncGate("deny", denyReason)
		return GateDecision{Reason: denyReason, Count: count}, nil
	}

	// Rule 3: charge one unit and persist before the network call is issued,
	// so the charge survives a reload mid-turn.
	newCount, err := g.local.IncrCounter(ctx, scope, key)
	if err != nil {
		return GateDecision{}, err
	}
	metrics.IncGate("allow", "counted")
	return GateDecision{Allowed: true, Counted: true, Count: newCount}, nil
}

func (g *entitlementGate) ResetAnonymous(ctx context.Context, deviceID string) error {
	return g.local.ResetCounter(ctx, model.ScopeAnonymous, deviceID)
}

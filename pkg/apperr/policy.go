package apperr

import "time"

// Action is what the recovery policy recommends for a given error Kind.
type Action string

const (
	ActionRetry          Action = "retry"
	ActionAlertNoRetry   Action = "alert_no_retry"
	ActionFallbackMemory Action = "fallback_memory"
	ActionSurface        Action = "surface"
	ActionEscalate       Action = "escalate"
)

// Policy is one row of the recovery policy table (§4.G): what to do, and
// (for retryable kinds) the backoff schedule to do it with.
type Policy struct {
	Action      Action
	BaseBackoff time.Duration
	Factor      float64
	MaxAttempts int
}

// recoveryPolicy is the default table, overridable by configuration. Kinds
// absent from the map fall back to ActionSurface via PolicyFor.
var recoveryPolicy = map[Kind]Policy{
	KindNetwork:        {Action: ActionRetry, BaseBackoff: 500 * time.Millisecond, Factor: 1.5, MaxAttempts: 3},
	KindTimeout:        {Action: ActionRetry, BaseBackoff: 500 * time.Millisecond, Factor: 1.5, MaxAttempts: 3},
	KindContainer:      {Action: ActionAlertNoRetry},
	KindDatabase:       {Action: ActionFallbackMemory},
	KindValidation:     {Action: ActionSurface},
	KindAuthentication: {Action: ActionSurface},
	KindAuthorization:  {Action: ActionSurface},
	KindResourceExhausted: {Action: ActionSurface},
}

// PolicyFor returns the configured recovery policy for kind, or a surface
// default if none is registered. Critical-severity kinds with no explicit
// policy row escalate by default, per §4.G — but a Kind-specific row (e.g.
// Database's fall-back-to-memory) always takes precedence over the blanket
// severity rule.
func PolicyFor(kind Kind) Policy {
	if p, ok := recoveryPolicy[kind]; ok {
		return p
	}
	if defaultSeverity[kind] == SeverityCritical {
		return Policy{Action: ActionEscalate}
	}
	return Policy{Action: ActionSurface}
}

// SetPolicy overrides the recovery policy for kind. Intended for
// configuration loading at startup, not runtime mutation from request
// handling paths.
func SetPolicy(kind Kind, p Policy) {
	recoveryPolicy[kind] = p
}

// IsRetryable reports whether err's recovery policy recommends a retry.
func IsRetryable(err error) bool {
	return PolicyFor(KindOf(err)).Action == ActionRetry
}

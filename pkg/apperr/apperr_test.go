package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsDefaultSeverity(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		expected Severity
	}{
		{"container is high", KindContainer, SeverityHigh},
		{"validation is low", KindValidation, SeverityLow},
		{"database is critical", KindDatabase, SeverityCritical},
		{"timeout is medium", KindTimeout, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, "boom")
			assert.Equal(t, tt.expected, err.Severity)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindIO, "read failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "underlying")
}

func TestIsMatchesByKindOnly(t *testing.T) {
	a := New(KindContainer, "first message")
	b := New(KindContainer, "different message")
	c := New(KindNetwork, "first message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestKindOfFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestPolicyForRetryableKinds(t *testing.T) {
	tests := []struct {
		kind   Kind
		action Action
	}{
		{KindNetwork, ActionRetry},
		{KindTimeout, ActionRetry},
		{KindContainer, ActionAlertNoRetry},
		{KindDatabase, ActionFallbackMemory},
		{KindValidation, ActionSurface},
		{KindResourceExhausted, ActionSurface},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.action, PolicyFor(tt.kind).Action)
		})
	}
}

func TestKindSpecificPolicyBeatsCriticalSeverity(t *testing.T) {
	// Database is the one Kind that is both Critical severity and has its
	// own recoveryPolicy row; the row must win over the blanket escalate.
	assert.Equal(t, SeverityCritical, defaultSeverity[KindDatabase])
	assert.Equal(t, ActionFallbackMemory, PolicyFor(KindDatabase).Action)
}

func TestCriticalSeverityEscalatesWithoutExplicitPolicy(t *testing.T) {
	// KindExternalService has no recoveryPolicy row today; temporarily
	// pin it to Critical to exercise the escalate-by-default fallback.
	original := defaultSeverity[KindExternalService]
	defaultSeverity[KindExternalService] = SeverityCritical
	defer func() { defaultSeverity[KindExternalService] = original }()

	assert.Equal(t, ActionEscalate, PolicyFor(KindExternalService).Action)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindNetwork, "flaky")))
	assert.False(t, IsRetryable(New(KindValidation, "bad input")))
}

func TestWithContextChains(t *testing.T) {
	err := New(KindContainer, "create failed").WithContext("id", "abc").WithContext("op", "create")

	assert.Equal(t, "abc", err.Context["id"])
	assert.Equal(t, "create", err.Context["op"])
}

package plcbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsZeroFields(t *testing.T) {
	b := New(Config{Name: "x"})
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestTripsOpenAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "x", ConsecutiveFailures: 2, Timeout: 50 * time.Millisecond})

	b.RecordFailure()
	require.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestHalfOpenProbeFailureReopensImmediately(t *testing.T) {
	b := New(Config{Name: "x", ConsecutiveFailures: 1, Timeout: 20 * time.Millisecond})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestSuccessResetsConsecutiveFailureCount(t *testing.T) {
	b := New(Config{Name: "x", ConsecutiveFailures: 2, Timeout: time.Second})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "a single failure after a reset must not trip a 2-failure breaker")
}

func TestDefaultConfigTripsAfterThreeFailures(t *testing.T) {
	b := New(DefaultConfig("plcserver-bind"))

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

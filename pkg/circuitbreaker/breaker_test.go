package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("downstream failed")

func failing() error { return errDown }
func passing() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(failing), errDown)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(passing), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(Settings{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})

	require.Error(t, b.Execute(failing))
	require.Error(t, b.Execute(failing))
	require.NoError(t, b.Execute(passing))
	require.Error(t, b.Execute(failing))
	require.Error(t, b.Execute(failing))

	assert.Equal(t, StateClosed, b.State(), "interleaved successes keep the circuit closed")
}

func TestBreakerHalfOpenProbeAndClose(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond})

	require.Error(t, b.Execute(failing))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(passing))
	assert.Equal(t, StateHalfOpen, b.State(), "one success is not enough to close")
	require.NoError(t, b.Execute(passing))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond})

	require.Error(t, b.Execute(failing))
	time.Sleep(20 * time.Millisecond)
	require.Error(t, b.Execute(failing))

	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	require.Error(t, b.Execute(failing))
	assert.Equal(t, []string{"closed->open"}, transitions)
}

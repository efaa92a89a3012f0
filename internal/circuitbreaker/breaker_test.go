package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesDefaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, StateClosed, b.GetState())
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 2, b.successThreshold)
	assert.Equal(t, 30*time.Second, b.openTimeout)

	custom := New(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: 10 * time.Second})
	assert.Equal(t, 3, custom.failureThreshold)
	assert.Equal(t, 1, custom.successThreshold)
	assert.Equal(t, 10*time.Second, custom.openTimeout)
}

func TestBreaker_OpensAfterConsecutiveTransportFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenTimeout: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	require.NoError(t, b.Allow(), "endpoint below the failure threshold keeps serving")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "calls fail fast while the endpoint is considered down")
}

func TestBreaker_AnsweredCallResetsFailureStreak(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenTimeout: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Two failures since the endpoint last answered; the streak restarted.
	require.NoError(t, b.Allow())
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_ProbesEndpointAfterOpenTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Millisecond})

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.Allow(), "an expired open window lets a probe call through")
	assert.Equal(t, StateHalfOpen, b.GetState())
}

func TestBreaker_ClosesAfterEnoughProbeSuccesses(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.GetState(), "one probe success is not recovery yet")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState(), "a failed probe sends the endpoint straight back to open")
}

func TestBreaker_NotifiesOnEveryTransition(t *testing.T) {
	var transitions []struct{ from, to State }
	b := New(Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Millisecond,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, struct{ from, to State }{from, to})
		},
	})

	b.RecordFailure()
	b.RecordFailure()
	require.Len(t, transitions, 1)
	assert.Equal(t, StateClosed, transitions[0].from)
	assert.Equal(t, StateOpen, transitions[0].to)

	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()
	require.Len(t, transitions, 2)
	assert.Equal(t, StateHalfOpen, transitions[1].to)

	b.RecordSuccess()
	require.Len(t, transitions, 3)
	assert.Equal(t, StateClosed, transitions[2].to)
}

func TestBreaker_GetStateAdvancesExpiredOpenWindow(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Millisecond})

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.state)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.GetState(), "reading the state notices the expired window")
}

func TestBreaker_OpenRejectsUntilTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Hour})

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	// Every rpc call touches the breaker, so Allow, RecordSuccess,
	// RecordFailure and GetState race in normal operation. Run with -race.
	b := New(Config{FailureThreshold: 10, SuccessThreshold: 5, OpenTimeout: time.Millisecond})

	const goroutines = 20
	const iterations = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				switch id % 4 {
				case 0:
					b.RecordSuccess()
				case 1:
					b.RecordFailure()
				case 2:
					_ = b.Allow()
				case 3:
					_ = b.GetState()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, b.GetState())
}

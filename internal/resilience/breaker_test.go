package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) (int, error) { return 0, errBoom }
func ok(context.Context) (int, error)   { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("street", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), b, fail)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, Open, b.State())

	called := false
	_, err := Do(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("street", BreakerConfig{FailureThreshold: 2})

	_, _ = Do(context.Background(), b, fail)
	_, _ = Do(context.Background(), b, ok)
	_, _ = Do(context.Background(), b, fail)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	var transitions []string
	b := NewBreaker("satellite", BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	b.now = func() time.Time { return now }

	_, _ = Do(context.Background(), b, fail)
	assert.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	v, err := Do(context.Background(), b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, []string{
		"satellite:closed->open",
		"satellite:open->half-open",
		"satellite:half-open->closed",
	}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("street", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	b.now = func() time.Time { return now }

	_, _ = Do(context.Background(), b, fail)
	now = now.Add(2 * time.Second)
	_, _ = Do(context.Background(), b, fail)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_ShouldTrip(t *testing.T) {
	b := NewBreaker("street", BreakerConfig{FailureThreshold: 1, ShouldTrip: UpstreamDown})

	_, _ = Do(context.Background(), b, func(context.Context) (int, error) {
		return 0, &StatusError{URL: "u", StatusCode: http.StatusNotFound}
	})
	assert.Equal(t, Closed, b.State(), "404 does not trip")

	_, _ = Do(context.Background(), b, func(context.Context) (int, error) {
		return 0, eris.Wrap(&StatusError{URL: "u", StatusCode: http.StatusBadGateway}, "tile")
	})
	assert.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
}

func TestBreakers_PerName(t *testing.T) {
	s := NewBreakers(BreakerConfig{FailureThreshold: 1})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Get("street")
		}()
	}
	wg.Wait()

	assert.Same(t, s.Get("street"), s.Get("street"))
	_, _ = Do(context.Background(), s.Get("satellite"), fail)

	states := s.States()
	assert.Equal(t, Closed, states["street"])
	assert.Equal(t, Open, states["satellite"])
}

func TestUpstreamDown(t *testing.T) {
	assert.False(t, UpstreamDown(nil))
	assert.False(t, UpstreamDown(errBoom))
	assert.True(t, UpstreamDown(&StatusError{StatusCode: 503}))
	assert.True(t, UpstreamDown(&StatusError{StatusCode: 429}))
	assert.False(t, UpstreamDown(&StatusError{StatusCode: 404}))
	assert.True(t, UpstreamDown(context.DeadlineExceeded), "timeouts implement net.Error")
}

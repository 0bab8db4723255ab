package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayMonotonicAndClamped(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	prev := time.Duration(-1)
	for n := 0; n < 80; n++ {
		d := Delay(n, cfg, nil)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, cfg.MaxDelay, "attempt %d", n)
		prev = d
	}
}

func TestDelayExponentialSequence(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for n, w := range want {
		assert.Equal(t, w, Delay(n, cfg, nil), "attempt %d", n)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}

	assert.Equal(t, 1500*time.Millisecond, Delay(1, cfg, func() float64 { return 0 }))
	assert.Equal(t, 2500*time.Millisecond, Delay(1, cfg, func() float64 { return 1 }))
	assert.Equal(t, 2*time.Second, Delay(1, cfg, func() float64 { return 0.5 }))

	for i := 0; i < 200; i++ {
		d := Delay(1, cfg, nil)
		require.GreaterOrEqual(t, d, 1500*time.Millisecond)
		require.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestDelayNeverNegative(t *testing.T) {
	tests := []struct {
		name string
		n    int
		cfg  Config
	}{
		{"negative attempt", -3, Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}},
		{"negative base", 1, Config{BaseDelay: -time.Second, MaxDelay: time.Minute, Multiplier: 2}},
		{"negative max", 1, Config{BaseDelay: time.Second, MaxDelay: -time.Minute, Multiplier: 2}},
		{"nan multiplier", 2, Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: math.NaN()}},
		{"inf multiplier", 2, Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: math.Inf(1)}},
		{"huge attempt", 1 << 20, Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Delay(tt.n, tt.cfg, nil)
			assert.GreaterOrEqual(t, d, time.Duration(0))
		})
	}

	assert.Equal(t, time.Second, Delay(-3, Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}, nil))
	assert.Equal(t, time.Minute, Delay(1<<20, Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}, nil))
}

func TestPolicyStepsAndResets(t *testing.T) {
	p := NewPolicy(Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 3}, nil)

	assert.Equal(t, time.Second, p.NextBackOff())
	assert.Equal(t, 3*time.Second, p.NextBackOff())
	assert.Equal(t, 9*time.Second, p.NextBackOff())
	p.Reset()
	assert.Equal(t, time.Second, p.NextBackOff())
}

func TestInstantTimerFires(t *testing.T) {
	Instant.Start(time.Hour)
	select {
	case <-Instant.C():
	case <-time.After(time.Second):
		t.Fatal("instant timer did not fire")
	}
	Instant.Stop()
}

package vcs

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffDelayFixed(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 2 * time.Second, Multiplier: 1}
	for attempt := 1; attempt <= 3; attempt++ {
		assert.Equal(t, 2*time.Second, NextBackoffDelay(cfg, attempt, nil))
	}
}

func TestNextBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	assert.Equal(t, 300*time.Millisecond, NextBackoffDelay(cfg, 3, nil))
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 1, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		d := NextBackoffDelay(cfg, 2, rng)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
	assert.Equal(t, 500*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
}

func TestNextBackoffDelayZeroInitial(t *testing.T) {
	assert.Equal(t, time.Duration(0), NextBackoffDelay(BackoffConfig{Multiplier: 3}, 4, nil))
}

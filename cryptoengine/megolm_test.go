package cryptoengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/davidwed/libkazv/value"
)

func TestShouldRotateOnMessageLimit(t *testing.T) {
	now := value.Now()
	s := &OutboundMegOlmSession{
		CreatedAt: now,
		Policy:    RotationPolicy{TimeLimitMs: 604800000, MessageLimit: 2},
	}
	assert.False(t, s.ShouldRotate(now))
	s.MessageCount = 2
	assert.True(t, s.ShouldRotate(now))
}

func TestShouldRotateOnTimeLimit(t *testing.T) {
	now := value.Now()
	s := &OutboundMegOlmSession{
		CreatedAt: now.Add(-2 * time.Hour),
		Policy:    RotationPolicy{TimeLimitMs: time.Hour.Milliseconds(), MessageLimit: 100},
	}
	assert.True(t, s.ShouldRotate(now))
}

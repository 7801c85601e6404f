package app

import (
	"math/rand"
	"time"
)

// RetryPolicy computes when a transiently failed job should run again.
// Delay grows exponentially with the attempt number and is capped, with up to
// 25% random jitter added so retry storms do not line up.
type RetryPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// NextDelay returns the backoff delay after the given attempt (1-based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

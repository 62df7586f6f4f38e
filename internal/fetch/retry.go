package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// backoffPolicy computes jittered exponential backoff delays.
type backoffPolicy struct {
	base time.Duration
	max  time.Duration
}

// delay returns the wait before the attempt following attempt n (1-based).
func (p backoffPolicy) delay(attempt int) time.Duration {
	base := p.base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	maxDelay := p.max
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	half := time.Duration(d / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

package ratelimit

import "time"

// Backoff returns min(base*2^(attempt-1), ceiling). Attempts below one are
// treated as the first attempt.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}

// Jitter maps a uniform draw u in [0,1) onto [10%, 50%] of d.
func Jitter(d time.Duration, u float64) time.Duration {
	if d <= 0 {
		return 0
	}
	u = min(max(u, 0), 1)
	return time.Duration(float64(d) * (0.1 + 0.4*u))
}

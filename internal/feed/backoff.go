package feed

import "time"

// Backoff returns the wait before reconnect attempt n (1-based). The delay
// grows linearly with the attempt count and is capped at base*maxMultiplier.
func Backoff(attempt int, base time.Duration, maxMultiplier int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if maxMultiplier < 1 {
		maxMultiplier = 1
	}
	return base * time.Duration(min(attempt, maxMultiplier))
}

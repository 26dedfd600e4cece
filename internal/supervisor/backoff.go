package supervisor

import (
	"time"
)

// backoffDelay returns the delay before restart attempt n (1-based):
// base doubled per previous attempt, never exceeding cap. The sequence is
// monotonically non-decreasing.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

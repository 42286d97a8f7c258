package cache

import "time"

// entry represents an item in the cache
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time // zero means no expiry
}

func (e *entry) isExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// expiryFrom returns the absolute expiry for ttl, zero when ttl is not positive.
func expiryFrom(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// cloneValue copies byte payloads so callers never alias stored data.
func cloneValue(v interface{}) interface{} {
	b, ok := v.([]byte)
	if !ok || b == nil {
		return v
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

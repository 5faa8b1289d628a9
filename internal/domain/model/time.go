package model

import "time"

// UnixNanos is a UNIX timestamp in nanoseconds.
type UnixNanos uint64

// NanosFromTime converts a wall-clock time.
func NanosFromTime(t time.Time) UnixNanos {
	if t.IsZero() || t.UnixNano() < 0 {
		return 0
	}
	return UnixNanos(t.UnixNano())
}

// Time converts the timestamp to UTC wall-clock time.
func (n UnixNanos) Time() time.Time {
	return time.Unix(0, int64(n)).UTC()
}

// IsZero reports whether the timestamp is unset.
func (n UnixNanos) IsZero() bool { return n == 0 }

// Add returns n shifted by d, clamped at zero.
func (n UnixNanos) Add(d time.Duration) UnixNanos {
	v := int64(n) + d.Nanoseconds()
	if v < 0 {
		return 0
	}
	return UnixNanos(v)
}

// Sub returns the duration n - other.
func (n UnixNanos) Sub(other UnixNanos) time.Duration {
	return time.Duration(int64(n) - int64(other))
}

func (n UnixNanos) String() string {
	return n.Time().Format(time.RFC3339Nano)
}

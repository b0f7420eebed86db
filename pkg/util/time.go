package util

// SecondsThreshold separates second and millisecond epoch timestamps: values
// below it are Unix seconds.
const SecondsThreshold = 1e12

// NormalizeMillis converts a second-resolution epoch to milliseconds.
func NormalizeMillis(ts int64) int64 {
	if ts > 0 && ts < SecondsThreshold {
		return ts * 1000
	}
	return ts
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// BucketStart returns the start of the periodMs-wide bucket holding tsMs.
func BucketStart(tsMs, periodMs int64) int64 {
	return FloorDiv(tsMs, periodMs) * periodMs
}

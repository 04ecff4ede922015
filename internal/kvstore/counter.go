package kvstore

import "strconv"

// Counters are stored as decimal strings so the same value column serves
// both payloads and counters. Malformed values reset to zero rather than
// erroring; counter state is always safe to recompute.
func parseCounter(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatCounter(n int64) string {
	return strconv.FormatInt(n, 10)
}

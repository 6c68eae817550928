package rate

import (
	"strconv"
	"strings"
)

// extractInts returns every integer substring of s. Non-digits separate values.
func extractInts(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// retryAfter pulls a wait hint such as "blocked for 60 seconds" or
// "retry after 5s" out of a broker message.
func retryAfter(msg string) (int64, bool) {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"retry after", "try again in", "for"} {
		i := strings.Index(lower, marker)
		if i < 0 {
			continue
		}
		rest := lower[i+len(marker):]
		nums := extractInts(rest)
		if len(nums) == 0 {
			continue
		}
		if strings.Contains(rest, "ms") || strings.Contains(rest, "millisecond") {
			return nums[0] / 1000, true
		}
		return nums[0], true
	}
	return 0, false
}

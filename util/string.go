package util

func BoolPtr(b bool) *bool {
	return &b
}

// Truncate shortens s to at most n bytes for log and error output.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

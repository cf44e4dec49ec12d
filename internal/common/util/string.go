package util

// Truncate shortens s to at most n bytes. Used to cap stored error traces so
// they respect persistence layer field limits.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// StringListsEqualIgnoringOrder reports whether a and b contain the same set
// of strings, ignoring order and duplicates.
func StringListsEqualIgnoringOrder(a []string, b []string) bool {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	other := make(map[string]bool, len(b))
	for _, s := range b {
		other[s] = true
	}
	for _, s := range a {
		if !other[s] {
			return false
		}
	}
	return true
}

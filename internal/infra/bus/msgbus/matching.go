package msgbus

// IsMatching reports whether topic matches pattern, where '*' matches any run
// of characters (including none) and '?' matches exactly one.
func IsMatching(topic, pattern string) bool {
	t, p := 0, 0
	star, mark := -1, 0
	for t < len(topic) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == topic[t]):
			t++
			p++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = t
			p++
		case star >= 0:
			p = star + 1
			mark++
			t = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

package monitor

import "strings"

// MatchKeywords returns the subset of keywords occurring in title as
// case-insensitive substrings, preserving keyword order.
func MatchKeywords(title string, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	lower := strings.ToLower(title)
	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

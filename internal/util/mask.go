package util

import "strconv"

// MaskToken renders a credential safe for logs: first four characters and
// length, nothing else.
func MaskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "…(" + strconv.Itoa(len(s)) + ")"
}

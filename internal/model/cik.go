package model

import "strings"

// PadCIK normalizes a numeric SEC identifier to its 10-digit zero-padded
// form. ok is false when s is empty, non-numeric, or longer than 10 digits.
func PadCIK(s string) (cik string, ok bool) {
	s = strings.TrimLeft(strings.TrimSpace(s), "0")
	if s == "" || len(s) > 10 {
		return "", false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return strings.Repeat("0", 10-len(s)) + s, true
}

package remote

import "strings"

// Quote minimally quotes an argument for POSIX shells. Common safe
// characters stay unquoted; anything else is single-quoted with the standard
// `'\''` escape for embedded single quotes. Remote command lines are built
// exclusively from quoted pieces.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return false
		}
		switch r {
		case '-', '_', '.', '/', '@', ':', ',', '+', '=':
			return false
		}
		return true
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

package models

import "strings"

// ExtractMentions pulls @name tokens out of message text for downstream
// notification. The store records mentions but does not act on them.
func ExtractMentions(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, tok := range strings.Fields(text) {
		if !strings.HasPrefix(tok, "@") || len(tok) < 2 {
			continue
		}
		name := strings.TrimFunc(tok[1:], func(r rune) bool {
			return !(r == '_' || r == '-' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
		})
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

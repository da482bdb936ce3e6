// Package util junta helpers chicos sin dueño claro.
package util

import "strings"

// MaskEmail reduce un email a algo logueable sin PII: primera letra del
// usuario y del dominio, el resto elidido. Entradas que no parecen email se
// enmascaran enteras.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	at := strings.IndexByte(s, '@')
	if at <= 0 {
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}

	user, domain := s[:at], s[at+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	parts := strings.Split(domain, ".")
	if len(parts) > 0 && len(parts[0]) > 1 {
		parts[0] = parts[0][:1] + "…"
	}
	return user + "@" + strings.Join(parts, ".")
}

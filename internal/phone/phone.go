// internal/phone/phone.go
package phone

import "strings"

const countryPrefix = "55"

// NormalizeBR normalizes a raw phone string to the canonical Brazilian mobile
// format: "55" + 2-digit area code + 9-digit local number (13 digits total).
// Returns "" when the number cannot be normalized safely.
func NormalizeBR(raw string) string {
	digits := Digits(raw)
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return ""
	}

	if !strings.HasPrefix(digits, countryPrefix) {
		switch len(digits) {
		case 10, 11:
			// Area code + local number without country code.
			digits = countryPrefix + digits
		default:
			// Missing area code; cannot infer safely.
			return ""
		}
	}
	if !strings.HasPrefix(digits, countryPrefix) {
		return ""
	}

	// Collapse the leading run of 5s (duplicate country prefixes).
	run := 0
	for run < len(digits) && digits[run] == '5' {
		run++
	}
	rest := digits
	if run >= 2 {
		rest = digits[run:]
	}

	if len(rest) < 10 {
		return ""
	}

	switch {
	case len(rest) == 10:
		// 2-digit area code + 8-digit local: insert the mobile 9.
		rest = rest[:2] + "9" + rest[2:]
	case len(rest) == 11:
		if rest[2] != '9' {
			rest = rest[:2] + "9" + rest[2:]
		}
	default:
		// Too long; keep the last 11 digits and enforce the leading 9.
		trimmed := rest[len(rest)-11:]
		local := trimmed[2:]
		if local[0] != '9' {
			local = "9" + local[:8]
		}
		rest = trimmed[:2] + local
	}

	if len(rest) != 11 {
		return ""
	}
	return countryPrefix + rest
}

// Digits strips every non-digit rune. Enqueued phones are stored in this
// form; full normalization is applied only on the disparo path.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

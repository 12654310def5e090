package privacy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

// MaskIdentity shortens a sender identity for log lines, keeping only the
// last four digits. Full identities never appear in logs.
func MaskIdentity(identity string) string {
	runes := []rune(identity)
	if len(runes) <= 4 {
		return "****"
	}
	return "****" + string(runes[len(runes)-4:])
}

// MaskContent scrubs emails, phone numbers, and card numbers from free-form
// text before it is logged. Analyzed messages carry victims' personal data.
func MaskContent(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	return masked
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}

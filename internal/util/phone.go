package util

import "strings"

// NormalizePhone strips everything except digits from a phone number and
// ensures a single leading '+'. The referral API rejects numbers in any
// other shape.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// IsEmail reports whether an OTP target looks like an email address rather
// than a phone number. The API accepts either on the login path.
func IsEmail(target string) bool {
	at := strings.Index(target, "@")
	return at > 0 && at < len(target)-1
}

// NormalizeTarget canonicalizes an OTP target: emails are lowercased and
// trimmed, phone numbers go through NormalizePhone.
func NormalizeTarget(target string) string {
	if IsEmail(target) {
		return strings.ToLower(strings.TrimSpace(target))
	}
	return NormalizePhone(target)
}

package util

import (
	"errors"
	"strings"
)

// ErrInvalidPhoneNumber is returned when a phone number cannot be reduced to
// the canonical bare 10-digit form.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// CanonicalizePhone reduces a phone number to the canonical bare 10-digit
// subscriber number. Accepted inputs are the bare form, the `91`-prefixed
// form, the `+91`-prefixed form, and a single leading trunk zero; spaces,
// dashes, and parentheses are stripped first.
func CanonicalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, r := range []string{" ", "-", "(", ")"} {
		s = strings.ReplaceAll(s, r, "")
	}

	s = strings.TrimPrefix(s, "+")
	switch {
	case len(s) == 12 && strings.HasPrefix(s, "91"):
		s = s[2:]
	case len(s) == 11 && strings.HasPrefix(s, "0"):
		s = s[1:]
	}

	if len(s) != 10 {
		return "", ErrInvalidPhoneNumber
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", ErrInvalidPhoneNumber
		}
	}

	return s, nil
}

// PhoneCandidates returns the lookup candidates for a canonical phone number.
// Legacy rows may still carry `91`- or `+91`-prefixed numbers, so lookups try
// every historical format.
func PhoneCandidates(canonical string) []string {
	return []string{canonical, "91" + canonical, "+91" + canonical}
}

// PhoneE164 renders a canonical phone number in the +91 E.164 form the OTP
// gateway expects.
func PhoneE164(canonical string) string {
	return "+91" + canonical
}

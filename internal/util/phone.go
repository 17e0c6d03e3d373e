package util

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// CanonicalPhone reduces a North-American phone number in any common notation
// to its ten digits.
func CanonicalPhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", ErrInvalidPhone
	}
	return digits, nil
}

// E164 renders a canonical ten-digit phone as +1XXXXXXXXXX.
func E164(phone string) string {
	p, err := CanonicalPhone(phone)
	if err != nil {
		return ""
	}
	return "+1" + p
}

// ERPPhone renders a canonical phone the way the ERP stores it: XXX-XXX-XXXX.
func ERPPhone(phone string) string {
	p, err := CanonicalPhone(phone)
	if err != nil {
		return ""
	}
	return p[:3] + "-" + p[3:6] + "-" + p[6:]
}

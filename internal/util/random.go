// Package util provides ID generation and environment helpers for BloodLink.
package util

import (
	"math/rand/v2"
	"strings"
)

// IntSource yields uniformly distributed integers in [0, n). *rand.Rand
// satisfies it; tests pass a seeded one for deterministic IDs.
type IntSource interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from the math/rand/v2 global generator.
var DefaultSource IntSource = globalSource{}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
func GenerateRandomHex(length int) string {
	return randomString(DefaultSource, "0123456789abcdef", length)
}

// GenerateRandomAlphaNumeric generates a random upper-case alphanumeric string.
func GenerateRandomAlphaNumeric(src IntSource, length int) string {
	return randomString(src, "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ", length)
}

// GenerateRandomDigits generates a random string of decimal digits.
func GenerateRandomDigits(src IntSource, length int) string {
	return randomString(src, "0123456789", length)
}

func randomString(src IntSource, alphabet string, length int) string {
	if length <= 0 {
		return ""
	}
	if src == nil {
		src = DefaultSource
	}
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(alphabet[src.IntN(len(alphabet))])
	}
	return builder.String()
}

package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxCardLength bounds accepted card keys.
const MaxCardLength = 256

// NormalizeCard trims surrounding whitespace. Card keys are case sensitive,
// so nothing else is changed.
func NormalizeCard(card string) string {
	return strings.TrimSpace(card)
}

// ValidateCard checks a normalized card key before it is sent anywhere.
func ValidateCard(card string) error {
	if card == "" {
		return fmt.Errorf("card cannot be empty")
	}
	if len(card) > MaxCardLength {
		return fmt.Errorf("card exceeds maximum length of %d characters", MaxCardLength)
	}
	if !utf8.ValidString(card) {
		return fmt.Errorf("card is not valid UTF-8")
	}
	for _, r := range card {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("card must not contain whitespace or control characters")
		}
	}
	return nil
}

// MaskCard masks a card key for logs and display: the first and last four
// characters stay visible.
func MaskCard(card string) string {
	runes := []rune(card)
	if len(runes) <= 8 {
		return "****"
	}
	return string(runes[:4]) + "****" + string(runes[len(runes)-4:])
}

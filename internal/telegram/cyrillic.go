package telegram

import (
	"regexp"
	"strings"
	"unicode"
)

// Workbook exports come through OCR, which renders some Cyrillic letters as
// visually similar digits. Inside Cyrillic words those digits map back to
// letters; digits in Latin/numeric tokens are left alone.
var digitToCyrillic = map[rune]rune{
	'0': 'О',
	'3': 'З',
	'4': 'Ч',
	'6': 'Б',
	'8': 'В',
}

var cyrillicWordRe = regexp.MustCompile(`[\x{0400}-\x{04FF}0-9]+`)

func containsCyrillic(s string) bool {
	for _, r := range s {
		if r >= 0x0400 && r <= 0x04FF {
			return true
		}
	}
	return false
}

// CleanCyrillicDigits repairs OCR digit artefacts inside Cyrillic words.
func CleanCyrillicDigits(s string) string {
	return cyrillicWordRe.ReplaceAllStringFunc(s, func(word string) string {
		if !strings.ContainsFunc(word, unicode.IsDigit) || !containsCyrillic(word) {
			return word
		}
		return strings.Map(func(r rune) rune {
			if repl, ok := digitToCyrillic[r]; ok {
				return repl
			}
			return r
		}, word)
	})
}

package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Either digit groups of three separated by comma, dot or space ("3,450", "1.234", "1 234"),
// or a plain number with an optional decimal part ("1.2", "1,2"). An optional K/M/B suffix
// counts only when it isn't the start of a word ("5 best" is 5).
var countRegex = regexp.MustCompile(
	`^(\d{1,3}(?:[ ,.\x{00a0}\x{202f}]\d{3})+|\d+(?:[.,]\d+)?)(?:\s*([kmb])(?:[^\p{L}]|$))?`,
)

var countMultipliers = map[string]float64{
	"":  1,
	"k": 1_000,
	"m": 1_000_000,
	"b": 1_000_000_000,
}

// parseCount turns a displayed counter into a number. Anything it can't read is 0, metrics
// are best effort.
func parseCount(text string) int {
	text = strings.ToLower(strings.TrimSpace(text))
	match := countRegex.FindStringSubmatch(text)
	if match == nil {
		return 0
	}

	numberText, suffix := match[1], match[2]
	var value float64
	if isGroupedThousands(numberText) && suffix == "" {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, numberText)
		parsed, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0
		}
		value = parsed
	} else {
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(numberText, ",", "."), 64)
		if err != nil {
			return 0
		}
		value = parsed
	}

	result := math.Round(value * countMultipliers[suffix])
	if result < 0 || result > math.MaxInt32 {
		return 0
	}
	return int(result)
}

func isGroupedThousands(numberText string) bool {
	lastSeparator := strings.LastIndexFunc(numberText, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if lastSeparator == -1 {
		return false
	}
	_, size := utf8.DecodeRuneInString(numberText[lastSeparator:])
	return len(numberText)-lastSeparator-size == 3
}

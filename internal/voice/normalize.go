// Package voice converts analysis text to speech using the ElevenLabs API.
package voice

import (
	"regexp"
	"strings"
)

// replacements maps symbols and tickers to speakable words. Order matters:
// ticker names are expanded before quote currencies so that a pair like
// BTCUSDT reads as "Bitcoin US D T".
var replacements = []struct {
	from string
	to   string
}{
	{"$", "dollars "},
	{"BTC", "Bitcoin"},
	{"ETH", "Ethereum"},
	{"SOL", "Solana"},
	{"USDT", "US D T"},
	{"RSI", "R S I"},
	{"%", " percent"},
}

var (
	markdownRe   = regexp.MustCompile("\\*\\*|__|`")
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize rewrites text for TTS delivery: tickers and symbols become
// speakable words, markdown artifacts are stripped, and whitespace is
// collapsed.
func Normalize(text string) string {
	for _, r := range replacements {
		text = strings.ReplaceAll(text, r.from, r.to)
	}

	text = markdownRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// SPDX-License-Identifier: MIT

package llm

import (
	"strings"
	"unicode"
)

const (
	// Every message follows "<im_start>{role/name}\n{content}<im_end>\n".
	messageOverhead = 4
	// Every reply is primed with "<im_start>assistant".
	replyPrimer = 2
	// The role is always present and always one token.
	roleTokens = 1
)

// CountTokens estimates the prompt size of messages the way the remote
// tokenizer frames them. Used to pack caption chunks under a budget,
// never for billing.
func CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += roleTokens
		total += EstimateTokens(m.Content)
		if m.Name != "" {
			// With a name set the role is folded into the name slot.
			total += EstimateTokens(m.Name) - 1
		}
	}
	total += replyPrimer
	return total
}

// EstimateTokens approximates the token count of free text. Space
// separated words run about 1.3 tokens each; CJK text carries no spaces
// and runs about one token per rune.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	var rest strings.Builder
	for _, r := range text {
		if isCJK(r) {
			cjk++
			rest.WriteByte(' ')
			continue
		}
		rest.WriteRune(r)
	}
	words := len(strings.Fields(rest.String()))
	return cjk + (words*13+9)/10
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

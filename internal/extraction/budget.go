package extraction

import "strings"

// estimateTokens blends a word-based and a character-based estimate
// (~1.3 tokens per word, ~4 characters per token).
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return (int(float64(words)*1.3) + len(text)/4) / 2
}

// truncateToBudget cuts text at a word boundary so it roughly fits budget
// tokens. The second result reports whether anything was cut.
func truncateToBudget(text string, budget int) (string, bool) {
	if budget <= 0 {
		return "", text != ""
	}
	if estimateTokens(text) <= budget {
		return text, false
	}
	maxChars := budget * 4
	if maxChars >= len(text) {
		return text, false
	}
	cut := text[:maxChars]
	if sp := strings.LastIndexAny(cut, " \n\t"); sp > maxChars/2 {
		cut = cut[:sp]
	}
	return strings.ToValidUTF8(cut, ""), true
}

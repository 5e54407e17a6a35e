package utils

import (
	"strings"
	"unicode"
)

// CountWords counts the words in a document body.
// Fenced code blocks, LaTeX commands and markup punctuation are not counted.
func CountWords(text string) int {
	count := 0
	for _, field := range strings.FieldsFunc(cleanText(text), unicode.IsSpace) {
		if strings.IndexFunc(field, isWordRune) >= 0 {
			count++
		}
	}
	return count
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func cleanText(text string) string {
	text = removeCodeBlocks(text)

	var b strings.Builder
	b.Grow(len(text))
	inCommand := false
	for _, r := range text {
		switch {
		case r == '\\':
			// \section{Title} keeps "Title" but drops "section"
			inCommand = true
			b.WriteRune(' ')
		case inCommand && unicode.IsLetter(r):
		case r == '{' || r == '}' || r == '`' || r == '*' || r == '_' || r == '#' || r == '>' || r == '~':
			inCommand = false
			b.WriteRune(' ')
		default:
			inCommand = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func removeCodeBlocks(text string) string {
	for {
		start := strings.Index(text, "```")
		if start == -1 {
			return text
		}
		end := strings.Index(text[start+3:], "```")
		if end == -1 {
			return text
		}
		text = text[:start] + " " + text[start+end+6:]
	}
}

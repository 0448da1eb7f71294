// Package text prepares segment text for remote synthesis: whitespace and
// punctuation normalization, length checks and splitting into request-sized
// chunks.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	whitespaceRegexPattern = `\s+`
	space                  = " "
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Preprocessor normalizes and splits text. It is safe for concurrent use.
type Preprocessor struct {
	whitespacePattern *regexp.Regexp
	punctuation       *strings.Replacer
}

// NewPreprocessor creates a Preprocessor with compiled patterns.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctuation: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize collapses whitespace runs to single spaces, trims the result and
// maps typographic quotes and dashes to their ASCII forms.
func (p *Preprocessor) Normalize(text string) string {
	if text == "" {
		return text
	}

	collapsed := p.whitespacePattern.ReplaceAllString(text, space)

	return strings.TrimSpace(p.punctuation.Replace(collapsed))
}

// Split normalizes text and breaks it into chunks of at most maxRunes runes.
// Chunks end at sentence or clause punctuation where possible, then at
// whitespace, and only as a last resort in the middle of a word.
func (p *Preprocessor) Split(text string, maxRunes int) []string {
	normalized := p.Normalize(text)
	if normalized == "" {
		return nil
	}

	if maxRunes <= 0 || RuneLength(normalized) <= maxRunes {
		return []string{normalized}
	}

	var chunks []string

	current := ""

	for _, piece := range clauses(normalized) {
		for _, token := range fitToken(piece, maxRunes) {
			candidate := joinPiece(current, token)
			if RuneLength(candidate) <= maxRunes {
				current = candidate

				continue
			}

			if current != "" {
				chunks = append(chunks, current)
			}

			current = token
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// RuneLength counts characters the way provider length limits do.
func RuneLength(text string) int {
	return utf8.RuneCountInString(text)
}

func isClauseBoundary(char rune) bool {
	switch char {
	case '.', '!', '?', ',', ';', ':', '。', '，', '、', '！', '？':
		return true
	default:
		return false
	}
}

// clauses cuts text after every clause boundary, trimming surrounding space.
func clauses(text string) []string {
	var (
		pieces  []string
		builder strings.Builder
	)

	for _, char := range text {
		builder.WriteRune(char)

		if isClauseBoundary(char) {
			piece := strings.TrimSpace(builder.String())
			if piece != "" {
				pieces = append(pieces, piece)
			}

			builder.Reset()
		}
	}

	tail := strings.TrimSpace(builder.String())
	if tail != "" {
		pieces = append(pieces, tail)
	}

	return pieces
}

// fitToken breaks a clause longer than maxRunes at whitespace, then by runes.
func fitToken(piece string, maxRunes int) []string {
	if RuneLength(piece) <= maxRunes {
		return []string{piece}
	}

	var tokens []string

	current := ""

	for _, word := range strings.FieldsFunc(piece, unicode.IsSpace) {
		for _, part := range hardSplit(word, maxRunes) {
			candidate := joinPiece(current, part)
			if RuneLength(candidate) <= maxRunes {
				current = candidate

				continue
			}

			if current != "" {
				tokens = append(tokens, current)
			}

			current = part
		}
	}

	if current != "" {
		tokens = append(tokens, current)
	}

	return tokens
}

func hardSplit(word string, maxRunes int) []string {
	runes := []rune(word)
	if len(runes) <= maxRunes {
		return []string{word}
	}

	parts := make([]string, 0, len(runes)/maxRunes+1)
	for start := 0; start < len(runes); start += maxRunes {
		end := min(start+maxRunes, len(runes))
		parts = append(parts, string(runes[start:end]))
	}

	return parts
}

func joinPiece(current, next string) string {
	if current == "" {
		return next
	}

	return current + space + next
}

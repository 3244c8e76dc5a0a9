package analysis

import (
	"unicode"
	"unicode/utf8"
)

// Token is one term occurrence produced by an Analyzer.
type Token struct {
	Term     string
	Position int
	// Start and End are byte offsets into the analyzed text.
	Start   int
	End     int
	Payload []byte
}

// Analyzer defines the interface for text analysis.
type Analyzer interface {
	Analyze(field, text string) []Token
}

// Simple performs basic tokenization: lowercasing and splitting on non-alphanumeric.
type Simple struct{}

func NewSimple() *Simple {
	return &Simple{}
}

// Analyze tokenizes text into tokens with positions and offsets.
func (a *Simple) Analyze(_, text string) []Token {
	var tokens []Token
	var term []rune
	position := 0
	start := -1

	emit := func(end int) {
		tokens = append(tokens, Token{
			Term:     string(term),
			Position: position,
			Start:    start,
			End:      end,
		})
		position++
		term = term[:0]
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if start < 0 {
				start = i
			}
			term = append(term, unicode.ToLower(r))
			continue
		}
		if start >= 0 {
			emit(i)
		}
	}
	if start >= 0 {
		emit(len(text))
	}
	return tokens
}

// Keyword emits the whole text as a single token.
type Keyword struct{}

func (Keyword) Analyze(_, text string) []Token {
	return []Token{{Term: text, Position: 0, Start: 0, End: len(text)}}
}

// PayloadFilter attaches a payload computed by Func to every token of the
// wrapped analyzer. A nil result leaves the token without payload.
type PayloadFilter struct {
	Analyzer Analyzer
	Func     func(field string, tok Token) []byte
}

func (p *PayloadFilter) Analyze(field, text string) []Token {
	tokens := p.Analyzer.Analyze(field, text)
	for i := range tokens {
		tokens[i].Payload = p.Func(field, tokens[i])
	}
	return tokens
}

// PerField dispatches to a per-field analyzer, falling back to Default.
type PerField struct {
	Default Analyzer
	Fields  map[string]Analyzer
}

func (p *PerField) Analyze(field, text string) []Token {
	if a, ok := p.Fields[field]; ok {
		return a.Analyze(field, text)
	}
	return p.Default.Analyze(field, text)
}

// ValidUTF8 reports whether every token term is valid UTF-8.
func ValidUTF8(tokens []Token) bool {
	for _, t := range tokens {
		if !utf8.ValidString(t.Term) {
			return false
		}
	}
	return true
}

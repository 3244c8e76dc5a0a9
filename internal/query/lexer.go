package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenType int

const (
	TokenTerm TokenType = iota
	TokenPhrase
	TokenField
	TokenAnd
	TokenOr
	TokenNot
	TokenLParen
	TokenRParen
	TokenPrefix
	TokenRegex
	TokenFuzzy
	TokenRange
	TokenMatchAll
	TokenEOF
)

var tokenNames = [...]string{
	TokenTerm:     "TERM",
	TokenPhrase:   "PHRASE",
	TokenField:    "FIELD",
	TokenAnd:      "AND",
	TokenOr:       "OR",
	TokenNot:      "NOT",
	TokenLParen:   "LPAREN",
	TokenRParen:   "RPAREN",
	TokenPrefix:   "PREFIX",
	TokenRegex:    "REGEX",
	TokenFuzzy:    "FUZZY",
	TokenRange:    "RANGE",
	TokenMatchAll: "MATCH_ALL",
	TokenEOF:      "EOF",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "UNKNOWN"
}

// Token is one lexical unit. Fuzzy tokens keep the "~N" suffix and range
// tokens keep their brackets; the parser splits them.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

func (t Token) String() string {
	if t.Value != "" {
		return fmt.Sprintf("%s(%s)", t.Type, t.Value)
	}
	return t.Type.String()
}

// Lexer splits a query string into tokens.
type Lexer struct {
	input string
	pos   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns every token of query, ending with TokenEOF.
func Tokenize(query string) ([]Token, error) {
	return NewLexer(query).TokenizeAll()
}

func (l *Lexer) TokenizeAll() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) peekRune(off int) (rune, int) {
	if l.pos+off >= len(l.input) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(l.input[l.pos+off:])
}

func (l *Lexer) NextToken() (Token, error) {
	for l.pos < len(l.input) {
		r, n := l.peekRune(0)
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += n
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start}, nil
	}

	switch l.input[l.pos] {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}, nil
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}, nil
	case '-':
		if next, n := l.peekRune(1); n > 0 && !unicode.IsSpace(next) {
			l.pos++
			return Token{Type: TokenNot, Value: "-", Pos: start}, nil
		}
	case '"':
		return l.readDelimited(TokenPhrase, '"', "phrase")
	case '/':
		return l.readDelimited(TokenRegex, '/', "regex")
	case '[', '{':
		return l.readRange()
	}
	return l.readWord()
}

// readDelimited reads up to the closing delim. A backslash escapes delim.
func (l *Lexer) readDelimited(typ TokenType, delim byte, what string) (Token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.input) && l.input[l.pos+1] == delim:
			sb.WriteByte(delim)
			l.pos += 2
		case c == delim:
			l.pos++
			return Token{Type: typ, Value: sb.String(), Pos: start}, nil
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return Token{}, fmt.Errorf("unterminated %s at position %d", what, start)
}

func (l *Lexer) readRange() (Token, error) {
	start := l.pos
	end := strings.IndexAny(l.input[l.pos:], "]}")
	if end < 0 {
		return Token{}, fmt.Errorf("unterminated range at position %d", start)
	}
	l.pos += end + 1
	return Token{Type: TokenRange, Value: l.input[start:l.pos], Pos: start}, nil
}

func isWordBreak(r rune) bool {
	return unicode.IsSpace(r) || r == '(' || r == ')' || r == '"'
}

func (l *Lexer) readWord() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) {
		r, n := l.peekRune(0)
		if isWordBreak(r) {
			break
		}
		if r == ':' {
			// the value after a field may start with a delimiter
			l.pos += n
			break
		}
		l.pos += n
	}
	word := l.input[start:l.pos]
	if word == "" {
		return Token{}, fmt.Errorf("unexpected character at position %d", l.pos)
	}

	switch word {
	case "AND", "&&":
		return Token{Type: TokenAnd, Value: "AND", Pos: start}, nil
	case "OR", "||":
		return Token{Type: TokenOr, Value: "OR", Pos: start}, nil
	case "NOT":
		return Token{Type: TokenNot, Value: "NOT", Pos: start}, nil
	}
	if strings.HasSuffix(word, ":") && len(word) > 1 {
		if word == "*:" && strings.HasPrefix(l.input[l.pos:], "*") {
			l.pos++
			return Token{Type: TokenMatchAll, Value: "*:*", Pos: start}, nil
		}
		return Token{Type: TokenField, Value: word[:len(word)-1], Pos: start}, nil
	}
	if i := strings.LastIndexByte(word, '~'); i > 0 {
		return Token{Type: TokenFuzzy, Value: word, Pos: start}, nil
	}
	if len(word) > 1 && strings.HasSuffix(word, "*") {
		return Token{Type: TokenPrefix, Value: strings.TrimSuffix(word, "*"), Pos: start}, nil
	}
	return Token{Type: TokenTerm, Value: word, Pos: start}, nil
}

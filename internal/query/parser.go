package query

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxFuzziness is the largest edit distance a fuzzy term may ask for.
const MaxFuzziness = 2

// Parser builds a query tree from tokens. Adjacent clauses are joined by
// AND; AND binds tighter than OR.
type Parser struct {
	tokens []Token
	pos    int
}

func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse returns nil for an empty token list.
func Parse(tokens []Token) (Query, error) {
	return NewParser(tokens).Parse()
}

// ParseString tokenizes and parses s.
func ParseString(s string) (Query, error) {
	tokens, err := Tokenize(s)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

func (p *Parser) Parse() (Query, error) {
	if p.peek().Type == TokenEOF {
		return nil, nil
	}
	q, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", tok, tok.Pos)
	}
	return q, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *Parser) parseOr() (Query, error) {
	var clauses []Query
	for {
		q, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, q)
		if p.peek().Type != TokenOr {
			break
		}
		p.next()
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return &BoolQuery{Should: clauses}, nil
}

func startsClause(t TokenType) bool {
	switch t {
	case TokenTerm, TokenPhrase, TokenField, TokenPrefix, TokenRegex,
		TokenFuzzy, TokenRange, TokenMatchAll, TokenLParen, TokenNot:
		return true
	}
	return false
}

func (p *Parser) parseAnd() (Query, error) {
	var clauses []Query
	for {
		q, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, q)
		if p.peek().Type == TokenAnd {
			p.next()
			continue
		}
		if !startsClause(p.peek().Type) {
			break
		}
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return &BoolQuery{Must: clauses}, nil
}

func (p *Parser) parseUnary() (Query, error) {
	if p.peek().Type != TokenNot {
		return p.parsePrimary()
	}
	p.next()
	q, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &BoolQuery{MustNot: []Query{q}}, nil
}

func (p *Parser) parsePrimary() (Query, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenLParen:
		p.next()
		q, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.peek(); closing.Type != TokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d, got %s", closing.Pos, closing)
		}
		p.next()
		return q, nil
	case TokenField:
		p.next()
		value := p.peek()
		switch value.Type {
		case TokenTerm, TokenPhrase, TokenPrefix, TokenRegex, TokenFuzzy, TokenRange:
			p.next()
			return valueQuery(tok.Value, value)
		}
		return nil, fmt.Errorf("expected a value after field %q, got %s", tok.Value, value)
	case TokenMatchAll:
		p.next()
		return &MatchAllQuery{}, nil
	case TokenTerm, TokenPhrase, TokenPrefix, TokenRegex, TokenFuzzy, TokenRange:
		p.next()
		return valueQuery("", tok)
	case TokenEOF:
		return nil, fmt.Errorf("unexpected end of query")
	}
	return nil, fmt.Errorf("unexpected %s at position %d", tok, tok.Pos)
}

func valueQuery(field string, tok Token) (Query, error) {
	switch tok.Type {
	case TokenPhrase:
		return &PhraseQuery{Field: field, Phrase: tok.Value}, nil
	case TokenPrefix:
		return &PrefixQuery{Field: field, Prefix: tok.Value}, nil
	case TokenRegex:
		return &RegexQuery{Field: field, Pattern: tok.Value}, nil
	case TokenFuzzy:
		return parseFuzzy(field, tok.Value)
	case TokenRange:
		return parseRange(field, tok.Value)
	}
	return &TermQuery{Field: field, Term: tok.Value}, nil
}

// parseFuzzy reads "term~N". A missing N means one edit.
func parseFuzzy(field, value string) (Query, error) {
	i := strings.LastIndexByte(value, '~')
	term, dist := value[:i], value[i+1:]
	fuzziness := 1
	if dist != "" {
		n, err := strconv.Atoi(dist)
		if err != nil {
			return nil, fmt.Errorf("invalid fuzziness in %q", value)
		}
		fuzziness = n
	}
	if fuzziness < 0 || fuzziness > MaxFuzziness {
		return nil, fmt.Errorf("fuzziness %d in %q must be between 0 and %d", fuzziness, value, MaxFuzziness)
	}
	return &FuzzyQuery{Field: field, Term: term, Fuzziness: uint8(fuzziness)}, nil
}

// parseRange reads "[lower TO upper]". Square brackets include the bound,
// curly ones exclude it and "*" leaves it open.
func parseRange(field, value string) (Query, error) {
	if len(value) < 2 {
		return nil, fmt.Errorf("invalid range %q", value)
	}
	parts := strings.Fields(value[1 : len(value)-1])
	if len(parts) != 3 || parts[1] != "TO" {
		return nil, fmt.Errorf("invalid range %q, want [lower TO upper]", value)
	}
	q := &RangeQuery{
		Field:    field,
		Lower:    parts[0],
		Upper:    parts[2],
		IncLower: value[0] == '[',
		IncUpper: value[len(value)-1] == ']',
	}
	if q.Lower == "*" {
		q.Lower = ""
	}
	if q.Upper == "*" {
		q.Upper = ""
	}
	return q, nil
}

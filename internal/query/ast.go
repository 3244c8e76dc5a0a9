// Package query parses the query string syntax used by the command line
// tools into a tree of query nodes.
package query

import (
	"fmt"
	"strings"
)

// Query is a node of a parsed query.
type Query interface {
	queryNode()
	String() string
}

// TermQuery matches one term. An empty Field means the default fields.
type TermQuery struct {
	Field string
	Term  string
}

// PhraseQuery matches the analyzed words of Phrase at consecutive
// positions.
type PhraseQuery struct {
	Field  string
	Phrase string
}

type PrefixQuery struct {
	Field  string
	Prefix string
}

// RegexQuery matches terms accepted by Pattern as a whole.
type RegexQuery struct {
	Field   string
	Pattern string
}

// FuzzyQuery matches terms within Fuzziness edits of Term.
type FuzzyQuery struct {
	Field     string
	Term      string
	Fuzziness uint8
}

// RangeQuery matches terms between Lower and Upper in byte order. An
// empty bound is open.
type RangeQuery struct {
	Field        string
	Lower, Upper string
	IncLower     bool
	IncUpper     bool
}

// MatchAllQuery matches every live document.
type MatchAllQuery struct{}

// BoolQuery requires every Must clause, at least one Should clause when
// there is no Must clause, and none of the MustNot clauses.
type BoolQuery struct {
	Must    []Query
	Should  []Query
	MustNot []Query
}

func (*TermQuery) queryNode()     {}
func (*PhraseQuery) queryNode()   {}
func (*PrefixQuery) queryNode()   {}
func (*RegexQuery) queryNode()    {}
func (*FuzzyQuery) queryNode()    {}
func (*RangeQuery) queryNode()    {}
func (*MatchAllQuery) queryNode() {}
func (*BoolQuery) queryNode()     {}

func qualified(field, s string) string {
	if field == "" {
		return s
	}
	return field + ":" + s
}

func (q *TermQuery) String() string   { return "term(" + qualified(q.Field, q.Term) + ")" }
func (q *PrefixQuery) String() string { return "prefix(" + qualified(q.Field, q.Prefix+"*") + ")" }
func (q *RegexQuery) String() string  { return "regex(" + qualified(q.Field, "/"+q.Pattern+"/") + ")" }
func (*MatchAllQuery) String() string { return "all()" }

func (q *PhraseQuery) String() string {
	return "phrase(" + qualified(q.Field, fmt.Sprintf("%q", q.Phrase)) + ")"
}

func (q *FuzzyQuery) String() string {
	return fmt.Sprintf("fuzzy(%s~%d)", qualified(q.Field, q.Term), q.Fuzziness)
}

func (q *RangeQuery) String() string {
	lb, rb := "{", "}"
	if q.IncLower {
		lb = "["
	}
	if q.IncUpper {
		rb = "]"
	}
	lower, upper := q.Lower, q.Upper
	if lower == "" {
		lower = "*"
	}
	if upper == "" {
		upper = "*"
	}
	return "range(" + qualified(q.Field, lb+lower+" TO "+upper+rb) + ")"
}

func (q *BoolQuery) String() string {
	var parts []string
	for _, group := range []struct {
		op      string
		clauses []Query
	}{{"AND", q.Must}, {"OR", q.Should}, {"NOT", q.MustNot}} {
		if len(group.clauses) == 0 {
			continue
		}
		strs := make([]string, len(group.clauses))
		for i, c := range group.clauses {
			strs[i] = c.String()
		}
		parts = append(parts, group.op+"("+strings.Join(strs, ", ")+")")
	}
	if len(parts) == 0 {
		return "bool(empty)"
	}
	return "bool(" + strings.Join(parts, " ") + ")"
}

// Flatten hoists the clauses of nested pure negations into MustNot, so
// "a AND NOT b" becomes Must [a], MustNot [b].
func (q *BoolQuery) Flatten() (must, should, mustNot []Query) {
	mustNot = append(mustNot, q.MustNot...)
	for _, list := range []struct {
		in  []Query
		out *[]Query
	}{{q.Must, &must}, {q.Should, &should}} {
		for _, c := range list.in {
			if bq, ok := c.(*BoolQuery); ok && len(bq.Must) == 0 && len(bq.Should) == 0 && len(bq.MustNot) > 0 {
				mustNot = append(mustNot, bq.MustNot...)
				continue
			}
			*list.out = append(*list.out, c)
		}
	}
	return must, should, mustNot
}

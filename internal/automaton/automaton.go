// Package automaton builds byte-level acceptors used to intersect term
// dictionaries.
package automaton

import (
	"fmt"
	"sort"
	"sync"

	"github.com/couchbase/vellum"
	"github.com/couchbase/vellum/levenshtein"
	"github.com/couchbase/vellum/regexp"
)

// Automaton is a deterministic acceptor over bytes. State 0 of the DFAs in
// this package is dead.
type Automaton = vellum.Automaton

const deadState = 0

// DFA is a table-driven automaton with sparse transitions and an optional
// default transition per state.
type DFA struct {
	trans    []map[byte]int
	def      []int
	accept   []bool
	canMatch []bool
	always   []bool
}

func newDFA() *DFA {
	d := &DFA{}
	d.addState() // dead
	return d
}

func (d *DFA) addState() int {
	d.trans = append(d.trans, nil)
	d.def = append(d.def, deadState)
	d.accept = append(d.accept, false)
	d.canMatch = append(d.canMatch, false)
	d.always = append(d.always, false)
	return len(d.trans) - 1
}

func (d *DFA) setTransition(from int, b byte, to int) {
	if d.trans[from] == nil {
		d.trans[from] = make(map[byte]int)
	}
	d.trans[from][b] = to
}

// finish computes CanMatch as reachability of an accepting state.
func (d *DFA) finish() *DFA {
	n := len(d.trans)
	rev := make([][]int, n)
	for s := 1; s < n; s++ {
		for _, to := range d.trans[s] {
			rev[to] = append(rev[to], s)
		}
		if d.def[s] != deadState {
			rev[d.def[s]] = append(rev[d.def[s]], s)
		}
	}
	var stack []int
	for s := 1; s < n; s++ {
		if d.accept[s] {
			d.canMatch[s] = true
			stack = append(stack, s)
		}
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range rev[s] {
			if !d.canMatch[p] {
				d.canMatch[p] = true
				stack = append(stack, p)
			}
		}
	}
	return d
}

func (d *DFA) Start() int {
	if len(d.trans) < 2 {
		return deadState
	}
	return 1
}

func (d *DFA) IsMatch(s int) bool         { return d.accept[s] }
func (d *DFA) CanMatch(s int) bool        { return d.canMatch[s] }
func (d *DFA) WillAlwaysMatch(s int) bool { return d.always[s] }

func (d *DFA) Accept(s int, b byte) int {
	if s == deadState {
		return deadState
	}
	if to, ok := d.trans[s][b]; ok {
		return to
	}
	return d.def[s]
}

// Any accepts every term, including the empty term.
func Any() *DFA {
	d := newDFA()
	s := d.addState()
	d.def[s] = s
	d.accept[s] = true
	d.always[s] = true
	return d.finish()
}

// Empty accepts nothing.
func Empty() *DFA {
	return newDFA().finish()
}

// Prefix accepts every term starting with prefix. An empty prefix accepts
// everything.
func Prefix(prefix []byte) *DFA {
	d := newDFA()
	s := d.addState()
	for _, b := range prefix {
		next := d.addState()
		d.setTransition(s, b, next)
		s = next
	}
	d.def[s] = s
	d.accept[s] = true
	d.always[s] = true
	return d.finish()
}

// Strings accepts exactly the given terms.
func Strings(terms ...[]byte) *DFA {
	d := newDFA()
	root := d.addState()
	sorted := append([][]byte(nil), terms...)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i]) < string(sorted[j]) })
	for _, term := range sorted {
		s := root
		for _, b := range term {
			next, ok := d.trans[s][b]
			if !ok {
				next = d.addState()
				d.setTransition(s, b, next)
			}
			s = next
		}
		d.accept[s] = true
	}
	return d.finish()
}

// Regexp compiles a regular expression (vellum syntax) that must match a
// whole term.
func Regexp(expr string) (Automaton, error) {
	r, err := regexp.New(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regexp %q: %w", expr, err)
	}
	return r, nil
}

// MaxFuzzyDistance is the largest edit distance Fuzzy supports.
const MaxFuzzyDistance = 2

type builderKey struct {
	distance      uint8
	transposition bool
}

var (
	buildersMu sync.Mutex
	builders   = map[builderKey]*levenshtein.LevenshteinAutomatonBuilder{}
)

// Fuzzy accepts terms within distance edits of term. Transpositions count
// as one edit when enabled.
func Fuzzy(term string, distance uint8, transpositions bool) (Automaton, error) {
	if distance > MaxFuzzyDistance {
		return nil, fmt.Errorf("fuzzy distance %d exceeds %d", distance, MaxFuzzyDistance)
	}
	key := builderKey{distance, transpositions}

	buildersMu.Lock()
	b, ok := builders[key]
	if !ok {
		var err error
		b, err = levenshtein.NewLevenshteinAutomatonBuilder(distance, transpositions)
		if err != nil {
			buildersMu.Unlock()
			return nil, fmt.Errorf("failed to create levenshtein builder: %w", err)
		}
		builders[key] = b
	}
	buildersMu.Unlock()

	dfa, err := b.BuildDfa(term, distance)
	if err != nil {
		return nil, fmt.Errorf("failed to build fuzzy automaton: %w", err)
	}
	return dfa, nil
}

// Run reports whether a accepts term.
func Run(a Automaton, term []byte) bool {
	s := a.Start()
	for _, b := range term {
		if !a.CanMatch(s) {
			return false
		}
		s = a.Accept(s, b)
	}
	return a.IsMatch(s)
}

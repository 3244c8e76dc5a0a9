package automaton

// rangeAutomaton accepts terms between lower and upper in byte order.
// A nil bound is open.
//
// States: 0 dead, 1 free (already strictly inside both bounds). Any other
// state encodes the number of bytes consumed while the term still equals a
// prefix of one or both bounds.
type rangeAutomaton struct {
	lower, upper       []byte
	incLower, incUpper bool
	hasLower, hasUpper bool
}

const (
	rangeFree = 1

	tightLower = 0
	tightUpper = 1
	tightBoth  = 2
)

// Range accepts terms t with lower <= t <= upper, each bound inclusive or
// exclusive. A nil bound means unbounded on that side.
func Range(lower, upper []byte, incLower, incUpper bool) Automaton {
	return &rangeAutomaton{
		lower:    lower,
		upper:    upper,
		incLower: incLower,
		incUpper: incUpper,
		hasLower: lower != nil,
		hasUpper: upper != nil,
	}
}

func encodeRange(consumed, kind int) int { return 2 + consumed*3 + kind }

func decodeRange(s int) (consumed, kind int) {
	s -= 2
	return s / 3, s % 3
}

func (r *rangeAutomaton) Start() int {
	switch {
	case r.hasLower && r.hasUpper:
		return encodeRange(0, tightBoth)
	case r.hasLower:
		return encodeRange(0, tightLower)
	case r.hasUpper:
		return encodeRange(0, tightUpper)
	}
	return rangeFree
}

func (r *rangeAutomaton) IsMatch(s int) bool {
	if s == deadState {
		return false
	}
	if s == rangeFree {
		return true
	}
	i, kind := decodeRange(s)
	if kind == tightLower || kind == tightBoth {
		// term equals lower[:i]; only lower itself can qualify
		if i < len(r.lower) || !r.incLower {
			return false
		}
	}
	if kind == tightUpper || kind == tightBoth {
		if i == len(r.upper) && !r.incUpper {
			return false
		}
	}
	return true
}

func (r *rangeAutomaton) CanMatch(s int) bool {
	if s == deadState {
		return false
	}
	if s == rangeFree {
		return true
	}
	i, kind := decodeRange(s)
	if (kind == tightUpper || kind == tightBoth) && i == len(r.upper) {
		return r.IsMatch(s)
	}
	return true
}

func (r *rangeAutomaton) WillAlwaysMatch(s int) bool { return s == rangeFree }

func (r *rangeAutomaton) Accept(s int, b byte) int {
	if s == deadState || s == rangeFree {
		return s
	}
	i, kind := decodeRange(s)

	lowTight := kind == tightLower || kind == tightBoth
	highTight := kind == tightUpper || kind == tightBoth

	if lowTight && i < len(r.lower) {
		switch {
		case b < r.lower[i]:
			return deadState
		case b > r.lower[i]:
			lowTight = false
		}
	} else if lowTight {
		// extending lower makes the term greater than it
		lowTight = false
	}

	if highTight {
		if i == len(r.upper) {
			return deadState
		}
		switch {
		case b > r.upper[i]:
			return deadState
		case b < r.upper[i]:
			highTight = false
		}
	}

	switch {
	case lowTight && highTight:
		return encodeRange(i+1, tightBoth)
	case lowTight:
		return encodeRange(i+1, tightLower)
	case highTight:
		return encodeRange(i+1, tightUpper)
	}
	return rangeFree
}

// Package field enumerates the (T,E,B)x(T,E,B) spectral field pairs and
// their spin structure.
//
// The nine field pairs index every flattened covariance and data-vector
// layout in this module. Their enumeration order is fixed to the row-major
// product order TT, TE, TB, ET, EE, EB, BT, BE, BB and must be identical on
// both axes of any tiled covariance.
package field

import "fmt"

// Component is one of the three sky-field components.
type Component int

const (
	T Component = iota
	E
	B
)

const componentNames = "TEB"

// String returns the single-letter component label.
func (c Component) String() string {
	if c < T || c > B {
		return fmt.Sprintf("Component(%d)", int(c))
	}
	return componentNames[c : c+1]
}

// Spin returns the spin of the component: 0 for T, 2 for E and B.
func (c Component) Spin() int {
	if c == T {
		return 0
	}
	return 2
}

// code returns the data-type letter of the component ("0", "e" or "b").
func (c Component) code() string {
	switch c {
	case T:
		return "0"
	case E:
		return "e"
	default:
		return "b"
	}
}

// Pair is an ordered field pair. The zero value is TT.
type Pair int

const (
	TT Pair = iota
	TE
	TB
	ET
	EE
	EB
	BT
	BE
	BB
)

// NumPairs is the number of distinct ordered field pairs.
const NumPairs = 9

var allPairs = [NumPairs]Pair{TT, TE, TB, ET, EE, EB, BT, BE, BB}

// Pairs returns all field pairs in their fixed enumeration order.
func Pairs() []Pair {
	p := allPairs
	return p[:]
}

// First returns the first component of the pair.
func (p Pair) First() Component { return Component(int(p) / 3) }

// Second returns the second component of the pair.
func (p Pair) Second() Component { return Component(int(p) % 3) }

// String returns the two-letter pair label, e.g. "TE".
func (p Pair) String() string {
	if p < TT || p > BB {
		return fmt.Sprintf("Pair(%d)", int(p))
	}
	return p.First().String() + p.Second().String()
}

// Index returns the position of the pair in the fixed enumeration order.
func (p Pair) Index() int { return int(p) }

// Parse converts a two-letter label such as "EB" into a Pair.
func Parse(s string) (Pair, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("field: invalid pair label %q", s)
	}
	first, second := -1, -1
	for i := range componentNames {
		if s[0] == componentNames[i] {
			first = i
		}
		if s[1] == componentNames[i] {
			second = i
		}
	}
	if first < 0 || second < 0 {
		return 0, fmt.Errorf("field: invalid pair label %q", s)
	}
	return Pair(first*3 + second), nil
}

// DataType returns the sacc data-type code of the pair. Codes put the
// spin-0 component first, so ET maps to "cl_0e" and BT to "cl_0b".
func (p Pair) DataType() string {
	a, b := p.First(), p.Second()
	if b == T && a != T {
		a, b = b, a
	}
	return "cl_" + a.code() + b.code()
}

// SpinCombo groups field pairs by their spin-0/spin-2 tensor structure.
// The combination decides which bandpower window block applies and how
// many independent spectra the block carries.
type SpinCombo int

const (
	Spin0x0 SpinCombo = iota
	Spin0x2
	Spin2x2
)

// String returns the label used to key bandpower window archives,
// e.g. "spin0xspin2".
func (sc SpinCombo) String() string {
	switch sc {
	case Spin0x0:
		return "spin0xspin0"
	case Spin0x2:
		return "spin0xspin2"
	case Spin2x2:
		return "spin2xspin2"
	}
	return fmt.Sprintf("SpinCombo(%d)", int(sc))
}

// SpinCombo returns the spin combination the pair belongs to.
func (p Pair) SpinCombo() SpinCombo {
	s := p.First().Spin() + p.Second().Spin()
	switch s {
	case 0:
		return Spin0x0
	case 2:
		return Spin0x2
	default:
		return Spin2x2
	}
}

// Pairs returns the fixed input/output field ordering of the spin block:
// [TT], [TE TB] and [EE EB BE BB]. This is the stacking order expected by
// the bandpower window operator of the combination.
func (sc SpinCombo) Pairs() []Pair {
	switch sc {
	case Spin0x0:
		return []Pair{TT}
	case Spin0x2:
		return []Pair{TE, TB}
	case Spin2x2:
		return []Pair{EE, EB, BE, BB}
	}
	return nil
}

// NumFields returns the number of independent spectra in the spin block.
func (sc SpinCombo) NumFields() int { return len(sc.Pairs()) }

// Combos returns the three spin combinations in fixed order.
func Combos() []SpinCombo {
	return []SpinCombo{Spin0x0, Spin0x2, Spin2x2}
}

// Package bandpower applies mode-coupling bandpower windows to unbinned
// angular power spectra.
//
// The package does not compute mode-coupling matrices itself. It consumes
// the 4-index window operators produced by an external deconvolution step,
// one per spin combination, and contracts them against finely sampled
// spectra to obtain binned bandpowers.
package bandpower

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-powspec/field"
	"github.com/cwbudde/algo-powspec/internal/npzio"
)

var (
	errEmptyOperator   = errors.New("bandpower: empty operator")
	errMissingSpectrum = errors.New("bandpower: missing spectrum for field pair")
	errShortSpectrum   = errors.New("bandpower: spectrum shorter than operator multipole axis")
)

// Operator is the bandpower window for one spin combination: a linear map
// from unbinned per-field spectra to binned bandpowers, laid out row-major
// as (output field, bin, input field, multipole). The field axes follow
// the fixed pair order of the spin combination.
type Operator struct {
	combo field.SpinCombo
	nBins int
	nEll  int
	data  []float64
}

// NewOperator wraps flat row-major coefficients as an operator. The data
// length must equal nFields*nBins*nFields*nEll for the combination.
func NewOperator(combo field.SpinCombo, nBins, nEll int, data []float64) (Operator, error) {
	if nBins <= 0 || nEll <= 0 {
		return Operator{}, fmt.Errorf("%w: %d bins, %d multipoles", errEmptyOperator, nBins, nEll)
	}
	nf := combo.NumFields()
	if want := nf * nBins * nf * nEll; len(data) != want {
		return Operator{}, fmt.Errorf("bandpower: %s operator has %d coefficients, want %d",
			combo, len(data), want)
	}
	return Operator{combo: combo, nBins: nBins, nEll: nEll, data: data}, nil
}

// Combo returns the spin combination the operator applies to.
func (op Operator) Combo() field.SpinCombo { return op.combo }

// NBins returns the number of output bandpowers per field.
func (op Operator) NBins() int { return op.nBins }

// NEll returns the length of the input multipole axis.
func (op Operator) NEll() int { return op.nEll }

// At returns the coefficient coupling input (inField, ell) to output
// (outField, bin).
func (op Operator) At(outField, bin, inField, ell int) float64 {
	return op.data[op.offset(outField, bin, inField)+ell]
}

func (op Operator) offset(outField, bin, inField int) int {
	nf := op.combo.NumFields()
	return ((outField*op.nBins+bin)*nf + inField) * op.nEll
}

// row returns the multipole-axis coefficients for one (out, bin, in) triple.
func (op Operator) row(outField, bin, inField int) []float64 {
	o := op.offset(outField, bin, inField)
	return op.data[o : o+op.nEll]
}

// Window bundles the bandpower operators of the three spin combinations.
type Window struct {
	ops [3]Operator
}

// NewWindow builds a window from the three per-combination operators. All
// three must be present and agree on the bin and multipole axes.
func NewWindow(spin0x0, spin0x2, spin2x2 Operator) (Window, error) {
	ops := [3]Operator{spin0x0, spin0x2, spin2x2}
	for i, combo := range field.Combos() {
		if ops[i].combo != combo {
			return Window{}, fmt.Errorf("bandpower: operator %d is for %s, want %s", i, ops[i].combo, combo)
		}
		if ops[i].data == nil {
			return Window{}, fmt.Errorf("%w: %s", errEmptyOperator, combo)
		}
		if ops[i].nBins != ops[0].nBins || ops[i].nEll != ops[0].nEll {
			return Window{}, fmt.Errorf("bandpower: %s operator is %dx%d, want %dx%d",
				combo, ops[i].nBins, ops[i].nEll, ops[0].nBins, ops[0].nEll)
		}
	}
	return Window{ops: ops}, nil
}

// Operator returns the operator for a spin combination.
func (w Window) Operator(combo field.SpinCombo) Operator { return w.ops[combo] }

// NBins returns the number of output bandpowers per field.
func (w Window) NBins() int { return w.ops[0].nBins }

// NEll returns the length of the input multipole axis.
func (w Window) NEll() int { return w.ops[0].nEll }

// Apply contracts the window against unbinned spectra and returns the
// binned bandpowers, keyed by field pair.
//
// Every pair of every spin block (TT; TE, TB; EE, EB, BE, BB) must be
// present: the operator input dimensionality is fixed, so callers pass
// explicit zero arrays for spectra a model sets to zero rather than
// omitting them. Spectra longer than the multipole axis are truncated;
// shorter ones are an error.
//
// Apply is a pure function of its inputs: reapplying to the same spectra
// and window is bit-identical.
func (w Window) Apply(spectra map[field.Pair][]float64) (map[field.Pair][]float64, error) {
	out := make(map[field.Pair][]float64, 7)
	for _, combo := range field.Combos() {
		op := w.ops[combo]
		pairs := combo.Pairs()
		nf := len(pairs)

		// Stack the block's spectra in the operator's input-field order.
		vec := make([]float64, nf*op.nEll)
		for k, p := range pairs {
			s, ok := spectra[p]
			if !ok {
				return nil, fmt.Errorf("%w: %s", errMissingSpectrum, p)
			}
			if len(s) < op.nEll {
				return nil, fmt.Errorf("%w: %s has %d multipoles, want >= %d", errShortSpectrum, p, len(s), op.nEll)
			}
			copy(vec[k*op.nEll:(k+1)*op.nEll], s[:op.nEll])
		}

		for j, p := range pairs {
			binned := make([]float64, op.nBins)
			for b := 0; b < op.nBins; b++ {
				var sum float64
				for k := 0; k < nf; k++ {
					sum += vecmath.DotProduct(op.row(j, b, k), vec[k*op.nEll:(k+1)*op.nEll])
				}
				binned[b] = sum
			}
			out[p] = binned
		}
	}
	return out, nil
}

// Load reads a window from an npz archive keyed bp_win_spin0xspin0,
// bp_win_spin0xspin2 and bp_win_spin2xspin2, each a 4-dimensional array
// shaped (fields, bins, fields, multipoles).
func Load(path string) (Window, error) {
	a, err := npzio.Open(path)
	if err != nil {
		return Window{}, err
	}
	defer a.Close()

	var ops [3]Operator
	for i, combo := range field.Combos() {
		shape, data, err := a.ReadND("bp_win_" + combo.String())
		if err != nil {
			return Window{}, err
		}
		nf := combo.NumFields()
		if len(shape) != 4 || shape[0] != nf || shape[2] != nf {
			return Window{}, fmt.Errorf("bandpower: %s operator in %s has shape %v, want (%d, bins, %d, ells)",
				combo, path, shape, nf, nf)
		}
		op, err := NewOperator(combo, shape[1], shape[3], data)
		if err != nil {
			return Window{}, err
		}
		ops[i] = op
	}
	return NewWindow(ops[0], ops[1], ops[2])
}

// Package covariance assembles per-pair covariance blocks into the single
// symmetric covariance matrix of a compiled spectral data vector.
//
// Blocks are indexed by (field pair, bin) on both axes in the fixed
// field-pair enumeration order. Only the upper triangle of the pair-entry
// grid is computed directly; the lower triangle is filled by transposition
// so the assembled matrix is exactly symmetric regardless of the input
// blocks.
package covariance

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-powspec/field"
)

var (
	// ErrOrder reports an invalid thinning order.
	ErrOrder = errors.New("covariance: thinning order must be >= 0")
	// ErrShape reports a block whose dimensions do not fit the layout.
	ErrShape = errors.New("covariance: block shape mismatch")
	// ErrMissingBlock reports an absent upper-triangle pair-entry block.
	ErrMissingBlock = errors.New("covariance: missing pair-entry block")
)

// BandMask returns an n x n matrix with ones where the index separation
// |i-j| is at most order and zeros elsewhere: the sum of shifted
// identities for offsets -order..+order.
func BandMask(n, order int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		lo, hi := i-order, i+order
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		for j := lo; j <= hi; j++ {
			m.Set(i, j, 1)
		}
	}
	return m
}

// Thin bands a pair-entry covariance block in place, zeroing every entry
// whose bin-index separation along either axis exceeds order. The band
// mask is applied per bin-index difference, replicated identically in
// every field-pair sub-block of the nFields x nFields grid.
//
// A nil order disables thinning and leaves the block untouched. Thinning
// is a lossy regularization: it trades a small bias in the error estimate
// for reduced estimation noise in off-diagonal entries measured from a
// finite simulation ensemble.
func Thin(cov *mat.Dense, nBins, nFields int, order *int) error {
	if order == nil {
		return nil
	}
	if *order < 0 {
		return fmt.Errorf("%w: %d", ErrOrder, *order)
	}
	size := nBins * nFields
	if r, c := cov.Dims(); r != size || c != size {
		return fmt.Errorf("%w: %dx%d, want %dx%d", ErrShape, r, c, size, size)
	}

	mask := BandMask(nBins, *order)
	for i := 0; i < size; i++ {
		row := cov.RawRowView(i)
		maskRow := mask.RawRowView(i % nBins)
		for f := 0; f < nFields; f++ {
			vecmath.MulBlockInPlace(row[f*nBins:(f+1)*nBins], maskRow)
		}
	}
	return nil
}

// TileFieldGrid builds one pair-entry block of size (9*nBins)^2 from the
// 81 per-field-pair sub-blocks, placing sub(fp1, fp2) at offset
// (fp1.Index()*nBins, fp2.Index()*nBins). A sub-block error (typically a
// missing field-pair key in the raw input) aborts the tiling.
func TileFieldGrid(nBins int, sub func(fp1, fp2 field.Pair) (*mat.Dense, error)) (*mat.Dense, error) {
	size := field.NumPairs * nBins
	out := mat.NewDense(size, size, nil)
	for _, fp1 := range field.Pairs() {
		for _, fp2 := range field.Pairs() {
			m, err := sub(fp1, fp2)
			if err != nil {
				return nil, err
			}
			if r, c := m.Dims(); r != nBins || c != nBins {
				return nil, fmt.Errorf("%w: %s%s is %dx%d, want %dx%d", ErrShape, fp1, fp2, r, c, nBins, nBins)
			}
			i, j := fp1.Index()*nBins, fp2.Index()*nBins
			out.Slice(i, i+nBins, j, j+nBins).(*mat.Dense).Copy(m)
		}
	}
	return out, nil
}

// Assemble tiles upper-triangle pair-entry blocks into the full matrix
// and symmetrizes it. blocks is keyed by pair-entry indices (i, j) with
// i <= j; block (i, j) is placed at offsets (i*blockSize, j*blockSize).
// Every upper-triangle entry must be present.
func Assemble(blocks map[[2]int]*mat.Dense, nEntries, blockSize int) (*mat.Dense, error) {
	full := mat.NewDense(nEntries*blockSize, nEntries*blockSize, nil)
	for i := 0; i < nEntries; i++ {
		for j := i; j < nEntries; j++ {
			b, ok := blocks[[2]int{i, j}]
			if !ok {
				return nil, fmt.Errorf("%w: (%d, %d)", ErrMissingBlock, i, j)
			}
			if r, c := b.Dims(); r != blockSize || c != blockSize {
				return nil, fmt.Errorf("%w: (%d, %d) is %dx%d, want %dx%d", ErrShape, i, j, r, c, blockSize, blockSize)
			}
			ro, co := i*blockSize, j*blockSize
			full.Slice(ro, ro+blockSize, co, co+blockSize).(*mat.Dense).Copy(b)
		}
	}
	Symmetrize(full)
	return full, nil
}

// Symmetrize replaces m with triu(m) + triu(m)^T - diag(m): the strict
// lower triangle is overwritten by the transposed upper triangle and the
// diagonal is kept once. The result satisfies m == m^T exactly.
func Symmetrize(m *mat.Dense) {
	r, c := m.Dims()
	if r != c {
		panic(fmt.Sprintf("covariance: Symmetrize on %dx%d matrix", r, c))
	}
	for i := 1; i < r; i++ {
		for j := 0; j < i; j++ {
			m.Set(i, j, m.At(j, i))
		}
	}
}

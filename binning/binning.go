// Package binning defines bandpower binning schemes: ordered, contiguous
// integer multipole intervals covering [0, 3*nside) with representative
// center values.
package binning

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-powspec/internal/npzio"
)

// ErrConfig reports an invalid binning configuration.
var ErrConfig = errors.New("binning: invalid configuration")

// Scheme is a bandpower binning: bin i covers the closed multipole
// interval [Low[i], High[i]] and is represented by Center[i].
type Scheme struct {
	Low    []int
	High   []int
	Center []float64
}

// Option configures scheme creation.
type Option func(*config)

type config struct {
	firstBinEnd int
}

// WithFirstBinEnd makes the first bin span [0, l] regardless of the step,
// with subsequent bins stepping from l+1. Used to merge the poorly
// constrained lowest multipoles into a single wide bin.
func WithFirstBinEnd(l int) Option {
	return func(cfg *config) {
		cfg.firstBinEnd = l
	}
}

// New creates a binning scheme for a map resolution nside with bin width
// deltaEll. Bins are contiguous and cover [0, 3*nside); the last bin is
// truncated or widened so that High of the last bin is exactly 3*nside-1.
func New(nside, deltaEll int, opts ...Option) (Scheme, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	if nside <= 0 {
		return Scheme{}, fmt.Errorf("%w: nside must be > 0: %d", ErrConfig, nside)
	}
	lmax := 3*nside - 1
	if deltaEll <= 0 {
		return Scheme{}, fmt.Errorf("%w: delta_ell must be > 0: %d", ErrConfig, deltaEll)
	}
	if deltaEll > lmax {
		return Scheme{}, fmt.Errorf("%w: delta_ell %d exceeds multipole range [0, %d]", ErrConfig, deltaEll, lmax)
	}
	if cfg.firstBinEnd < 0 || cfg.firstBinEnd > lmax {
		return Scheme{}, fmt.Errorf("%w: first bin end %d outside [0, %d]", ErrConfig, cfg.firstBinEnd, lmax)
	}

	var low []int
	start := 0
	if cfg.firstBinEnd > 0 {
		low = append(low, 0)
		start = cfg.firstBinEnd + 1
	}
	for l := start; l < 3*nside; l += deltaEll {
		low = append(low, l)
	}

	n := len(low)
	s := Scheme{
		Low:    low,
		High:   make([]int, n),
		Center: make([]float64, n),
	}
	for i := 0; i < n-1; i++ {
		s.High[i] = s.Low[i+1] - 1
	}
	s.High[n-1] = lmax
	for i := 0; i < n; i++ {
		s.Center[i] = float64(s.Low[i]+s.High[i]) / 2
	}
	return s, nil
}

// FromEdges builds a scheme from explicit bin edges, as read from a
// binning file. Centers are the interval midpoints.
func FromEdges(low, high []int) (Scheme, error) {
	if len(low) != len(high) || len(low) == 0 {
		return Scheme{}, fmt.Errorf("%w: edge arrays of length %d and %d", ErrConfig, len(low), len(high))
	}
	s := Scheme{
		Low:    append([]int(nil), low...),
		High:   append([]int(nil), high...),
		Center: make([]float64, len(low)),
	}
	for i := range s.Low {
		s.Center[i] = float64(s.Low[i]+s.High[i]) / 2
	}
	if err := s.Validate(); err != nil {
		return Scheme{}, err
	}
	return s, nil
}

// Len returns the number of bins.
func (s Scheme) Len() int { return len(s.Low) }

// Lmax returns the highest multipole covered by the scheme.
func (s Scheme) Lmax() int {
	if len(s.High) == 0 {
		return -1
	}
	return s.High[len(s.High)-1]
}

// Validate checks the scheme invariants: matching array lengths, the
// first bin starting at 0, non-empty bins, and contiguity without gaps
// or overlaps.
func (s Scheme) Validate() error {
	n := len(s.Low)
	if n == 0 || len(s.High) != n || len(s.Center) != n {
		return fmt.Errorf("%w: inconsistent edge array lengths %d/%d/%d",
			ErrConfig, len(s.Low), len(s.High), len(s.Center))
	}
	if s.Low[0] != 0 {
		return fmt.Errorf("%w: first bin starts at %d, want 0", ErrConfig, s.Low[0])
	}
	for i := 0; i < n; i++ {
		if s.Low[i] > s.High[i] {
			return fmt.Errorf("%w: bin %d is empty: [%d, %d]", ErrConfig, i, s.Low[i], s.High[i])
		}
		if i > 0 && s.Low[i] != s.High[i-1]+1 {
			return fmt.Errorf("%w: gap or overlap between bins %d and %d", ErrConfig, i-1, i)
		}
	}
	return nil
}

// Save writes the scheme as an npz archive with keys bin_low, bin_high
// and bin_center.
func (s Scheme) Save(path string) error {
	w, err := npzio.Create(path)
	if err != nil {
		return err
	}
	low := make([]int64, len(s.Low))
	high := make([]int64, len(s.High))
	for i := range s.Low {
		low[i] = int64(s.Low[i])
		high[i] = int64(s.High[i])
	}
	if err := w.Write("bin_low", low); err != nil {
		w.Close()
		return err
	}
	if err := w.Write("bin_high", high); err != nil {
		w.Close()
		return err
	}
	if err := w.Write("bin_center", s.Center); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Load reads a scheme from a binning archive exposing bin_low and
// bin_high. A stored bin_center is ignored; centers are recomputed as
// midpoints so that loaded schemes satisfy the same invariants as
// created ones.
func Load(path string) (Scheme, error) {
	a, err := npzio.Open(path)
	if err != nil {
		return Scheme{}, err
	}
	defer a.Close()

	low64, err := a.Int1D("bin_low")
	if err != nil {
		return Scheme{}, err
	}
	high64, err := a.Int1D("bin_high")
	if err != nil {
		return Scheme{}, err
	}
	low := make([]int, len(low64))
	high := make([]int, len(high64))
	for i := range low64 {
		low[i] = int(low64[i])
	}
	for i := range high64 {
		high[i] = int(high64[i])
	}
	return FromEdges(low, high)
}

// Package sacc implements the consolidated spectral data container: tracer
// metadata, binned data points and the single joint covariance matrix of a
// compiled measurement, serialized as one self-describing archive.
//
// A container is built in a fixed order: tracers first, then data groups,
// then the covariance, and is immutable once serialized. The concatenation
// order of the data groups defines the row/column ordering of the attached
// covariance.
package sacc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrConsistency reports a data vector whose length does not match
	// the covariance dimension. This is a programming or configuration
	// bug, never repaired by truncation or padding.
	ErrConsistency = errors.New("sacc: data vector and covariance dimension mismatch")
	// ErrState reports an operation out of the tracer/data/covariance
	// build order.
	ErrState = errors.New("sacc: invalid container state")
)

// Tracer describes one map set at one spin: a named instrument channel
// with effective frequencies and per-bin beam metadata.
type Tracer struct {
	Name     string
	Quantity string
	Spin     int
	Nu       []float64
	Ell      []float64
	Beam     []float64
	Bandpass []float64
}

// Group is one contiguous run of data points sharing a data type and a
// tracer pair: per-bin multipole centers, values and bandpower window.
type Group struct {
	DataType string
	Tracer1  string
	Tracer2  string
	Ell      []float64
	Value    []float64
	Window   []float64
}

// Sacc is the consolidated container.
type Sacc struct {
	tracers []Tracer
	names   map[string]int
	groups  []Group
	cov     *mat.Dense
}

// New returns an empty container.
func New() *Sacc {
	return &Sacc{names: make(map[string]int)}
}

// AddTracer registers a tracer. Tracers must be added before any data
// group and names must be unique.
func (s *Sacc) AddTracer(t Tracer) error {
	if len(s.groups) > 0 {
		return fmt.Errorf("%w: tracer %q added after data", ErrState, t.Name)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: tracer with empty name", ErrState)
	}
	if _, dup := s.names[t.Name]; dup {
		return fmt.Errorf("%w: duplicate tracer %q", ErrState, t.Name)
	}
	if len(t.Beam) != 0 && len(t.Beam) != len(t.Ell) {
		return fmt.Errorf("%w: tracer %q beam length %d, ell length %d",
			ErrState, t.Name, len(t.Beam), len(t.Ell))
	}
	s.names[t.Name] = len(s.tracers)
	s.tracers = append(s.tracers, t)
	return nil
}

// AddEllCl appends a data group. Both tracers must already be registered
// and the per-bin arrays must have equal length. No data may be added
// once a covariance is attached.
func (s *Sacc) AddEllCl(dataType, tracer1, tracer2 string, ell, values, window []float64) error {
	if s.cov != nil {
		return fmt.Errorf("%w: data added after covariance", ErrState)
	}
	for _, name := range []string{tracer1, tracer2} {
		if _, ok := s.names[name]; !ok {
			return fmt.Errorf("%w: unknown tracer %q", ErrState, name)
		}
	}
	if len(values) != len(ell) || len(window) != len(ell) {
		return fmt.Errorf("%w: group %s lengths ell=%d values=%d window=%d",
			ErrState, dataType, len(ell), len(values), len(window))
	}
	s.groups = append(s.groups, Group{
		DataType: dataType,
		Tracer1:  tracer1,
		Tracer2:  tracer2,
		Ell:      ell,
		Value:    values,
		Window:   window,
	})
	return nil
}

// NPoints returns the total number of data points across all groups: the
// length of the flattened data vector.
func (s *Sacc) NPoints() int {
	n := 0
	for _, g := range s.groups {
		n += len(g.Value)
	}
	return n
}

// AddCovariance attaches the full covariance. It must be square, its
// dimension must equal NPoints exactly, and it may be attached only once.
func (s *Sacc) AddCovariance(cov *mat.Dense) error {
	if s.cov != nil {
		return fmt.Errorf("%w: covariance already attached", ErrState)
	}
	r, c := cov.Dims()
	if r != c {
		return fmt.Errorf("%w: covariance is %dx%d", ErrConsistency, r, c)
	}
	if n := s.NPoints(); r != n {
		return fmt.Errorf("%w: covariance dimension %d, data vector length %d", ErrConsistency, r, n)
	}
	s.cov = cov
	return nil
}

// Tracers returns the registered tracers in registration order.
func (s *Sacc) Tracers() []Tracer { return s.tracers }

// Tracer looks up a tracer by name.
func (s *Sacc) Tracer(name string) (Tracer, bool) {
	i, ok := s.names[name]
	if !ok {
		return Tracer{}, false
	}
	return s.tracers[i], true
}

// Groups returns the data groups in insertion order.
func (s *Sacc) Groups() []Group { return s.groups }

// Covariance returns the attached covariance, or nil.
func (s *Sacc) Covariance() *mat.Dense { return s.cov }

// Mean returns the flattened data vector in group insertion order.
func (s *Sacc) Mean() []float64 {
	v := make([]float64, 0, s.NPoints())
	for _, g := range s.groups {
		v = append(v, g.Value...)
	}
	return v
}

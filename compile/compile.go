// Package compile assembles per-pair power spectra and covariance blocks
// into consolidated sacc containers: one for the real data, or one per
// realization of a simulation ensemble.
package compile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-powspec/beam"
	"github.com/cwbudde/algo-powspec/binning"
	"github.com/cwbudde/algo-powspec/covariance"
	"github.com/cwbudde/algo-powspec/field"
	"github.com/cwbudde/algo-powspec/internal/npzio"
	"github.com/cwbudde/algo-powspec/sacc"
)

// Mode selects which realizations are compiled.
type Mode int

const (
	// ModeData compiles the single real-data measurement into one
	// unsuffixed container.
	ModeData Mode = iota
	// ModeSims compiles num_sims realizations, one suffixed container
	// each, sharing a single covariance matrix.
	ModeSims
)

// Pair is an ordered pair of map-set names identifying one
// power-spectrum entry.
type Pair struct {
	MS1 string
	MS2 string
}

func (p Pair) String() string { return p.MS1 + "_x_" + p.MS2 }

// PairNames enumerates the map-set pairs in the fixed order that
// determines every covariance and data-vector layout: (i, j) with i <= j
// in configuration order. The enumeration is identical across all
// realizations of an ensemble so later ensemble statistics align.
func PairNames(sets []MapSet) []Pair {
	var pairs []Pair
	for i := range sets {
		for j := i; j < len(sets); j++ {
			pairs = append(pairs, Pair{MS1: sets[i].Name, MS2: sets[j].Name})
		}
	}
	return pairs
}

// Compiler compiles one analysis configuration. It is safe to reuse for
// several runs; each run recomputes nothing but its own outputs.
type Compiler struct {
	cfg    Config
	log    *zap.Logger
	scheme binning.Scheme
	pairs  []Pair
}

// New creates a compiler, loading and validating the binning scheme. A
// nil logger disables logging.
func New(cfg Config, log *zap.Logger) (*Compiler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme, err := binning.Load(cfg.BinningFile)
	if err != nil {
		return nil, err
	}
	if got, want := scheme.Lmax(), 3*cfg.Nside-1; got != want {
		return nil, fmt.Errorf("%w: binning covers [0, %d], nside %d wants [0, %d]",
			ErrConfiguration, got, cfg.Nside, want)
	}
	return &Compiler{
		cfg:    cfg,
		log:    log,
		scheme: scheme,
		pairs:  PairNames(cfg.MapSets),
	}, nil
}

// Scheme returns the loaded binning scheme.
func (c *Compiler) Scheme() binning.Scheme { return c.scheme }

// Pairs returns the fixed pair enumeration.
func (c *Compiler) Pairs() []Pair { return c.pairs }

// covPath names the covariance archive of a pair-entry pair.
func (c *Compiler) covPath(p1, p2 Pair) string {
	return filepath.Join(c.cfg.CovDir,
		fmt.Sprintf("mc_cov_%s_x_%s_%s_x_%s.npz", p1.MS1, p1.MS2, p2.MS1, p2.MS2))
}

// cellPath names the spectrum archive of a pair, with an optional
// realization suffix.
func (c *Compiler) cellPath(dir string, p Pair, suffix string) string {
	return filepath.Join(dir,
		fmt.Sprintf("decoupled_cross_pcls_%s_x_%s%s.npz", p.MS1, p.MS2, suffix))
}

// loadCovBlock loads and tiles the (9*nBins)^2 covariance block of one
// upper-triangle pair-entry pair, then applies the configured thinning.
func (c *Compiler) loadCovBlock(p1, p2 Pair) (*mat.Dense, error) {
	path := c.covPath(p1, p2)
	a, err := npzio.Open(path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	nb := c.scheme.Len()
	block, err := covariance.TileFieldGrid(nb, func(fp1, fp2 field.Pair) (*mat.Dense, error) {
		return a.Matrix(fp1.String() + fp2.String())
	})
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", path, err)
	}
	if err := covariance.Thin(block, nb, field.NumPairs, c.cfg.Covariance.ThinningOrder); err != nil {
		return nil, err
	}
	return block, nil
}

// BuildCovariance assembles the full covariance matrix: every
// upper-triangle pair-entry block is loaded, tiled and thinned in
// parallel (each goroutine owns its own (i, j) slot), then the blocks
// are placed and the matrix symmetrized exactly. The result is computed
// once per run and shared across all realizations of an ensemble.
func (c *Compiler) BuildCovariance(ctx context.Context) (*mat.Dense, error) {
	n := len(c.pairs)
	blockSize := field.NumPairs * c.scheme.Len()
	c.log.Info("assembling covariance",
		zap.Int("pair_entries", n),
		zap.Int("dimension", n*blockSize),
	)

	type slot struct {
		i, j  int
		block *mat.Dense
	}
	slots := make([]slot, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			slots = append(slots, slot{i: i, j: j})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k := range slots {
		s := &slots[k]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			block, err := c.loadCovBlock(c.pairs[s.i], c.pairs[s.j])
			if err != nil {
				return err
			}
			s.block = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blocks := make(map[[2]int]*mat.Dense, len(slots))
	for _, s := range slots {
		blocks[[2]int{s.i, s.j}] = s.block
	}
	return covariance.Assemble(blocks, n, blockSize)
}

// loadSpectra reads the nine per-field-pair binned spectra of one pair.
func (c *Compiler) loadSpectra(dir string, p Pair, suffix string) (map[field.Pair][]float64, error) {
	path := c.cellPath(dir, p, suffix)
	a, err := npzio.Open(path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	nb := c.scheme.Len()
	cls := make(map[field.Pair][]float64, field.NumPairs)
	for _, fp := range field.Pairs() {
		v, err := a.Float1D(fp.String())
		if err != nil {
			return nil, err
		}
		if len(v) != nb {
			return nil, fmt.Errorf("%w: %s in %s has %d bins, want %d",
				sacc.ErrConsistency, fp, path, len(v), nb)
		}
		cls[fp] = v
	}
	return cls, nil
}

// tracerName names the tracer of a map set at a spin.
func tracerName(ms string, spin int) string { return fmt.Sprintf("%s_s%d", ms, spin) }

// buildContainer compiles one realization into a container, sharing the
// prebuilt covariance.
func (c *Compiler) buildContainer(cov *mat.Dense, cellDir, suffix string) (*sacc.Sacc, error) {
	s := sacc.New()

	for _, ms := range c.cfg.MapSets {
		bw := ones(c.scheme.Len())
		if ms.BeamFWHMArcmin > 0 {
			bw = beam.Gaussian(c.scheme.Center, ms.BeamFWHMArcmin)
		}
		for _, spin := range []int{0, 2} {
			quantity := "cmb_temperature"
			if spin == 2 {
				quantity = "cmb_polarization"
			}
			err := s.AddTracer(sacc.Tracer{
				Name:     tracerName(ms.Name, spin),
				Quantity: quantity,
				Spin:     spin,
				Nu:       []float64{ms.FreqTag},
				Ell:      c.scheme.Center,
				Beam:     bw,
				Bandpass: []float64{1},
			})
			if err != nil {
				return nil, err
			}
		}
	}

	window := ones(c.scheme.Len())
	for _, p := range c.pairs {
		cls, err := c.loadSpectra(cellDir, p, suffix)
		if err != nil {
			return nil, err
		}
		for _, fp := range field.Pairs() {
			err := s.AddEllCl(
				fp.DataType(),
				tracerName(p.MS1, fp.First().Spin()),
				tracerName(p.MS2, fp.Second().Spin()),
				c.scheme.Center,
				cls[fp],
				window,
			)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := s.AddCovariance(cov); err != nil {
		return nil, err
	}
	return s, nil
}

// Run compiles all realizations of the selected mode. Any error aborts
// the whole run; no partial container is written.
func (c *Compiler) Run(ctx context.Context, mode Mode) error {
	nsims := 1
	cellDir := c.cfg.CellDir
	if mode == ModeSims {
		nsims = c.cfg.Covariance.NumSims
		if c.cfg.CellSimsDir != "" {
			cellDir = c.cfg.CellSimsDir
		}
	}

	cov, err := c.BuildCovariance(ctx)
	if err != nil {
		return err
	}

	saccDir := filepath.Join(c.cfg.OutputDir, "saccs")
	if err := os.MkdirAll(saccDir, 0o755); err != nil {
		return fmt.Errorf("compile: create %s: %w", saccDir, err)
	}

	for idSim := 0; idSim < nsims; idSim++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		suffix := ""
		if nsims > 1 {
			suffix = fmt.Sprintf("_%04d", idSim)
		}
		s, err := c.buildContainer(cov, cellDir, suffix)
		if err != nil {
			return err
		}
		out := filepath.Join(saccDir, "cl_and_cov_sacc"+suffix+".sacc")
		if err := s.Save(out); err != nil {
			return err
		}
		c.log.Info("wrote container",
			zap.String("path", out),
			zap.Int("tracers", len(s.Tracers())),
			zap.Int("points", s.NPoints()),
		)
	}
	return nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

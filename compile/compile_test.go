package compile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-powspec/binning"
	"github.com/cwbudde/algo-powspec/field"
	"github.com/cwbudde/algo-powspec/internal/npzio"
	"github.com/cwbudde/algo-powspec/sacc"
)

const (
	testNside = 10
	testDelta = 6
	testNBins = 5
)

// specValue is the deterministic fixture spectrum value for pair entry
// ip, field pair fp, bin b and realization id.
func specValue(ip, fp, b, id int) float64 {
	return float64(ip*10000 + fp*100 + b + id*1000000)
}

// covValue is the deterministic, deliberately asymmetric fixture
// covariance value for the (i, j) pair-entry block.
func covValue(i, j, fp1, fp2, b1, b2 int) float64 {
	return float64(i)*1e8 + float64(j)*1e7 + float64(fp1)*1e5 +
		float64(fp2)*1e4 + float64(b1)*1e2 + float64(b2) + 1
}

func writeSpectra(t *testing.T, dir string, pairs []Pair, suffix string, id int) {
	t.Helper()
	for ip, p := range pairs {
		w, err := npzio.Create(filepath.Join(dir,
			"decoupled_cross_pcls_"+p.MS1+"_x_"+p.MS2+suffix+".npz"))
		if err != nil {
			t.Fatalf("create spectra: %v", err)
		}
		for _, fp := range field.Pairs() {
			v := make([]float64, testNBins)
			for b := range v {
				v[b] = specValue(ip, fp.Index(), b, id)
			}
			if err := w.Write(fp.String(), v); err != nil {
				t.Fatalf("write spectra: %v", err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close spectra: %v", err)
		}
	}
}

func writeCovariances(t *testing.T, dir string, pairs []Pair) {
	t.Helper()
	for i, p1 := range pairs {
		for j, p2 := range pairs {
			if i > j {
				continue
			}
			w, err := npzio.Create(filepath.Join(dir,
				"mc_cov_"+p1.MS1+"_x_"+p1.MS2+"_"+p2.MS1+"_x_"+p2.MS2+".npz"))
			if err != nil {
				t.Fatalf("create cov: %v", err)
			}
			for _, fp1 := range field.Pairs() {
				for _, fp2 := range field.Pairs() {
					d := make([]float64, testNBins*testNBins)
					for b1 := 0; b1 < testNBins; b1++ {
						for b2 := 0; b2 < testNBins; b2++ {
							d[b1*testNBins+b2] = covValue(i, j, fp1.Index(), fp2.Index(), b1, b2)
						}
					}
					if err := w.Write(fp1.String()+fp2.String(), mat.NewDense(testNBins, testNBins, d)); err != nil {
						t.Fatalf("write cov: %v", err)
					}
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("close cov: %v", err)
			}
		}
	}
}

// fixtureConfig lays out a two-map-set analysis in a temp directory.
func fixtureConfig(t *testing.T, thinning *int, nsims int) Config {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"cells", "cells_sims", "covariances", "out"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	scheme, err := binning.New(testNside, testDelta)
	if err != nil {
		t.Fatalf("binning.New: %v", err)
	}
	if scheme.Len() != testNBins {
		t.Fatalf("fixture binning has %d bins, want %d", scheme.Len(), testNBins)
	}
	binFile := filepath.Join(root, "binning.npz")
	if err := scheme.Save(binFile); err != nil {
		t.Fatalf("save binning: %v", err)
	}

	cfg := Config{
		Nside:       testNside,
		BinningFile: binFile,
		OutputDir:   filepath.Join(root, "out"),
		CellDir:     filepath.Join(root, "cells"),
		CellSimsDir: filepath.Join(root, "cells_sims"),
		CovDir:      filepath.Join(root, "covariances"),
		MapSets: []MapSet{
			{Name: "sat_f093", FreqTag: 93},
			{Name: "sat_f145", FreqTag: 145, BeamFWHMArcmin: 30},
		},
		Covariance: CovarianceConfig{NumSims: nsims, ThinningOrder: thinning},
	}

	pairs := PairNames(cfg.MapSets)
	writeCovariances(t, cfg.CovDir, pairs)
	writeSpectra(t, cfg.CellDir, pairs, "", 0)
	for id := 0; id < nsims; id++ {
		suffix := ""
		if nsims > 1 {
			suffix = "_" + pad4(id)
		}
		writeSpectra(t, cfg.CellSimsDir, pairs, suffix, id+1)
	}
	return cfg
}

func pad4(v int) string {
	s := []byte{'0', '0', '0', '0'}
	for i := 3; i >= 0 && v > 0; i-- {
		s[i] = byte('0' + v%10)
		v /= 10
	}
	return string(s)
}

func TestPairNames(t *testing.T) {
	sets := []MapSet{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	got := PairNames(sets)
	want := []Pair{
		{"a", "a"}, {"a", "b"}, {"a", "c"},
		{"b", "b"}, {"b", "c"},
		{"c", "c"},
	}
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pair[%d]=%v, want %v", i, got[i], want[i])
		}
	}
}

func TestBuildCovariance(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cov, err := c.BuildCovariance(context.Background())
	if err != nil {
		t.Fatalf("BuildCovariance: %v", err)
	}
	nPairs := len(c.Pairs())
	dim := nPairs * field.NumPairs * testNBins
	if r, cdim := cov.Dims(); r != dim || cdim != dim {
		t.Fatalf("dims %dx%d, want %dx%d", r, cdim, dim, dim)
	}

	// Exact symmetry despite the asymmetric raw blocks.
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			if cov.At(i, j) != cov.At(j, i) {
				t.Fatalf("cov[%d,%d] != cov[%d,%d]", i, j, j, i)
			}
		}
	}

	// Upper triangle carries the raw loaded values.
	blockSize := field.NumPairs * testNBins
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			bi, bj := i/blockSize, j/blockSize
			ri, rj := i%blockSize, j%blockSize
			want := covValue(bi, bj, ri/testNBins, rj/testNBins, ri%testNBins, rj%testNBins)
			if got := cov.At(i, j); got != want {
				t.Fatalf("cov[%d,%d]=%v, want %v", i, j, got, want)
			}
		}
	}
}

func TestBuildCovarianceThinned(t *testing.T) {
	order := 1
	cfg := fixtureConfig(t, &order, 1)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cov, err := c.BuildCovariance(context.Background())
	if err != nil {
		t.Fatalf("BuildCovariance: %v", err)
	}

	dim, _ := cov.Dims()
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			sep := i%testNBins - j%testNBins
			if sep < 0 {
				sep = -sep
			}
			if sep > order && cov.At(i, j) != 0 {
				t.Fatalf("cov[%d,%d]=%v beyond band, want 0", i, j, cov.At(i, j))
			}
			if sep <= order && cov.At(i, j) == 0 {
				t.Fatalf("cov[%d,%d]=0 inside band", i, j)
			}
		}
	}
}

func TestRunDataMode(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), ModeData); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := filepath.Join(cfg.OutputDir, "saccs", "cl_and_cov_sacc.sacc")
	s, err := sacc.Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := len(s.Tracers()); got != 2*len(cfg.MapSets) {
		t.Fatalf("tracers=%d, want %d", got, 2*len(cfg.MapSets))
	}
	nPairs := len(c.Pairs())
	wantPoints := nPairs * field.NumPairs * testNBins
	if got := s.NPoints(); got != wantPoints {
		t.Fatalf("points=%d, want %d", got, wantPoints)
	}
	cov := s.Covariance()
	if cov == nil {
		t.Fatal("no covariance in container")
	}
	if r, _ := cov.Dims(); r != wantPoints {
		t.Fatalf("cov dim=%d, want %d", r, wantPoints)
	}

	// The data vector follows (pair, field pair, bin) order with the
	// fixture values.
	groups := s.Groups()
	if len(groups) != nPairs*field.NumPairs {
		t.Fatalf("groups=%d, want %d", len(groups), nPairs*field.NumPairs)
	}
	for gi, g := range groups {
		ip, fp := gi/field.NumPairs, gi%field.NumPairs
		for b, v := range g.Value {
			if want := specValue(ip, fp, b, 0); v != want {
				t.Fatalf("group %d bin %d = %v, want %v", gi, b, v, want)
			}
		}
		if want := field.Pair(fp).DataType(); g.DataType != want {
			t.Fatalf("group %d data type %q, want %q", gi, g.DataType, want)
		}
	}

	// Second map set carries a Gaussian beam, first is unity.
	tr, ok := s.Tracer("sat_f093_s0")
	if !ok {
		t.Fatal("missing tracer sat_f093_s0")
	}
	for _, v := range tr.Beam {
		if v != 1 {
			t.Fatalf("sat_f093 beam=%v, want unity", v)
		}
	}
	tr, ok = s.Tracer("sat_f145_s2")
	if !ok {
		t.Fatal("missing tracer sat_f145_s2")
	}
	if tr.Beam[0] <= tr.Beam[len(tr.Beam)-1] {
		t.Fatal("sat_f145 beam should decrease with ell")
	}
}

func TestRunSimsMode(t *testing.T) {
	const nsims = 3
	cfg := fixtureConfig(t, nil, nsims)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), ModeSims); err != nil {
		t.Fatalf("Run: %v", err)
	}

	saccDir := filepath.Join(cfg.OutputDir, "saccs")
	var containers []*sacc.Sacc
	for id := 0; id < nsims; id++ {
		path := filepath.Join(saccDir, "cl_and_cov_sacc_"+pad4(id)+".sacc")
		s, err := sacc.Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", path, err)
		}
		containers = append(containers, s)
	}
	if _, err := os.Stat(filepath.Join(saccDir, "cl_and_cov_sacc.sacc")); !os.IsNotExist(err) {
		t.Fatal("sims mode must not write an unsuffixed container")
	}

	// All realizations share the covariance and binning but differ in
	// their data vectors.
	ref := containers[0]
	refCov := ref.Covariance()
	dim, _ := refCov.Dims()
	for id := 1; id < nsims; id++ {
		cov := containers[id].Covariance()
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				if cov.At(i, j) != refCov.At(i, j) {
					t.Fatalf("sim %d covariance differs at [%d,%d]", id, i, j)
				}
			}
		}
		same := true
		a, b := ref.Mean(), containers[id].Mean()
		for i := range a {
			if a[i] != b[i] {
				same = false
				break
			}
		}
		if same {
			t.Fatalf("sim %d data vector identical to sim 0", id)
		}
	}
}

func TestRunMissingCovariance(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	pairs := PairNames(cfg.MapSets)
	if err := os.Remove(filepath.Join(cfg.CovDir,
		"mc_cov_"+pairs[1].MS1+"_x_"+pairs[1].MS2+"_"+pairs[2].MS1+"_x_"+pairs[2].MS2+".npz")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Run(context.Background(), ModeData)
	if !errors.Is(err, npzio.ErrNotFound) {
		t.Fatalf("err=%v, want npzio.ErrNotFound", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.OutputDir, "saccs", "cl_and_cov_sacc.sacc")); !os.IsNotExist(statErr) {
		t.Fatal("failed run must not write output")
	}
}

func TestRunMissingFieldPairKey(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	pairs := PairNames(cfg.MapSets)

	// Rewrite one spectrum archive without the EB key.
	path := filepath.Join(cfg.CellDir,
		"decoupled_cross_pcls_"+pairs[0].MS1+"_x_"+pairs[0].MS2+".npz")
	w, err := npzio.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, fp := range field.Pairs() {
		if fp == field.EB {
			continue
		}
		if err := w.Write(fp.String(), make([]float64, testNBins)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), ModeData); !errors.Is(err, npzio.ErrMissingKey) {
		t.Fatalf("err=%v, want npzio.ErrMissingKey", err)
	}
}

func TestRunSpectrumLengthMismatch(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	pairs := PairNames(cfg.MapSets)

	path := filepath.Join(cfg.CellDir,
		"decoupled_cross_pcls_"+pairs[0].MS1+"_x_"+pairs[0].MS2+".npz")
	w, err := npzio.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, fp := range field.Pairs() {
		if err := w.Write(fp.String(), make([]float64, testNBins+2)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), ModeData); !errors.Is(err, sacc.ErrConsistency) {
		t.Fatalf("err=%v, want sacc.ErrConsistency", err)
	}
}

func TestNewRejectsBinningMismatch(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	cfg.Nside = testNside * 2
	if _, err := New(cfg, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err=%v, want ErrConfiguration", err)
	}
}

func TestCovarianceSharedBetweenBuilds(t *testing.T) {
	cfg := fixtureConfig(t, nil, 1)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := c.BuildCovariance(context.Background())
	if err != nil {
		t.Fatalf("BuildCovariance: %v", err)
	}
	b, err := c.BuildCovariance(context.Background())
	if err != nil {
		t.Fatalf("BuildCovariance: %v", err)
	}
	if !mat.Equal(a, b) {
		t.Fatal("covariance must be reproducible between builds")
	}
}

func TestThinnedSubBlockScenario(t *testing.T) {
	// Spec scenario: the banded per-pair block has nonzero entries only
	// within 1 bin index of the diagonal in every 5x5 field-pair
	// sub-block.
	order := 1
	cfg := fixtureConfig(t, &order, 1)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	block, err := c.loadCovBlock(c.Pairs()[0], c.Pairs()[0])
	if err != nil {
		t.Fatalf("loadCovBlock: %v", err)
	}
	size := field.NumPairs * testNBins
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			sep := i%testNBins - j%testNBins
			if sep < 0 {
				sep = -sep
			}
			if sep > 1 && block.At(i, j) != 0 {
				t.Fatalf("block[%d,%d]=%v beyond band", i, j, block.At(i, j))
			}
		}
	}
}

package compile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration reports an invalid compiler configuration. All
// configuration problems, including a bad thinning order, are raised at
// startup rather than deferred to assembly time.
var ErrConfiguration = errors.New("compile: invalid configuration")

// MapSet identifies one instrument/frequency channel.
type MapSet struct {
	Name string `yaml:"name"`
	// FreqTag is the effective frequency in GHz recorded on the
	// channel's tracers.
	FreqTag float64 `yaml:"freq_tag"`
	// BeamFWHMArcmin selects a Gaussian tracer beam; zero leaves the
	// beam at unity (not separately estimated at this stage).
	BeamFWHMArcmin float64 `yaml:"beam_fwhm_arcmin"`
}

// CovarianceConfig controls covariance compilation.
type CovarianceConfig struct {
	// NumSims is the number of realizations compiled in simulation
	// mode; defaults to 1.
	NumSims int `yaml:"num_sims"`
	// ThinningOrder bands the per-pair covariance blocks, zeroing
	// entries more than this many bins off the diagonal. Absent means
	// no thinning.
	ThinningOrder *int `yaml:"thinning_order"`
}

// Config is the immutable compiler configuration, loaded once from a
// YAML globals file and passed explicitly; there is no process-wide
// state.
type Config struct {
	Nside       int    `yaml:"nside"`
	BinningFile string `yaml:"binning_file"`
	// OutputDir receives the "saccs" directory with the compiled
	// containers.
	OutputDir string `yaml:"output_dir"`
	// CellDir holds the per-pair decoupled spectra of the real data;
	// CellSimsDir the per-realization spectra of the ensemble.
	CellDir     string `yaml:"cell_dir"`
	CellSimsDir string `yaml:"cell_sims_dir"`
	// CovDir holds the per-(pair,pair) covariance archives.
	CovDir string `yaml:"cov_dir"`
	// MapSets is the ordered channel list. The order is significant:
	// it fixes the pair enumeration and with it the covariance and
	// data-vector layout of every compiled container.
	MapSets    []MapSet         `yaml:"map_sets"`
	Covariance CovarianceConfig `yaml:"covariance"`
}

// LoadConfig reads and validates a YAML globals file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read globals: %v", ErrConfiguration, err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	if cfg.Covariance.NumSims == 0 {
		cfg.Covariance.NumSims = 1
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Nside <= 0 {
		return fmt.Errorf("%w: nside must be > 0: %d", ErrConfiguration, c.Nside)
	}
	if c.BinningFile == "" {
		return fmt.Errorf("%w: binning_file is required", ErrConfiguration)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrConfiguration)
	}
	if c.CellDir == "" {
		return fmt.Errorf("%w: cell_dir is required", ErrConfiguration)
	}
	if c.CovDir == "" {
		return fmt.Errorf("%w: cov_dir is required", ErrConfiguration)
	}
	if len(c.MapSets) == 0 {
		return fmt.Errorf("%w: at least one map set is required", ErrConfiguration)
	}
	seen := make(map[string]bool, len(c.MapSets))
	for _, ms := range c.MapSets {
		if ms.Name == "" {
			return fmt.Errorf("%w: map set with empty name", ErrConfiguration)
		}
		if seen[ms.Name] {
			return fmt.Errorf("%w: duplicate map set %q", ErrConfiguration, ms.Name)
		}
		seen[ms.Name] = true
		if ms.BeamFWHMArcmin < 0 {
			return fmt.Errorf("%w: map set %q has negative beam width", ErrConfiguration, ms.Name)
		}
	}
	if c.Covariance.NumSims < 1 {
		return fmt.Errorf("%w: num_sims must be >= 1: %d", ErrConfiguration, c.Covariance.NumSims)
	}
	if o := c.Covariance.ThinningOrder; o != nil && *o < 0 {
		return fmt.Errorf("%w: thinning_order must be >= 0: %d", ErrConfiguration, *o)
	}
	return nil
}

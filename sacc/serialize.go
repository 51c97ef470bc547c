package sacc

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-powspec/internal/npzio"
)

// manifestVersion is bumped on incompatible layout changes.
const manifestVersion = 1

// The on-disk layout is a zip archive: a manifest.yaml describing tracers
// and data groups, plus one ".npy" member per numeric array. Array keys
// are derived from the manifest entries, so the manifest fully indexes
// the archive.
type manifest struct {
	Version       int           `yaml:"version"`
	Tracers       []tracerEntry `yaml:"tracers"`
	Data          []groupEntry  `yaml:"data"`
	HasCovariance bool          `yaml:"covariance"`
}

type tracerEntry struct {
	Name     string    `yaml:"name"`
	Quantity string    `yaml:"quantity"`
	Spin     int       `yaml:"spin"`
	Nu       []float64 `yaml:"nu,flow"`
}

type groupEntry struct {
	DataType string `yaml:"data_type"`
	Tracer1  string `yaml:"tracer1"`
	Tracer2  string `yaml:"tracer2"`
	N        int    `yaml:"n"`
}

func tracerKey(name, array string) string { return "tracer_" + name + "_" + array }

func groupKey(i int, array string) string { return fmt.Sprintf("data_%04d_%s", i, array) }

// Save serializes the container to path. The container should be complete:
// saving without an attached covariance is allowed only for intermediate
// products and recorded in the manifest.
func (s *Sacc) Save(path string) error {
	m := manifest{
		Version:       manifestVersion,
		HasCovariance: s.cov != nil,
	}
	for _, t := range s.tracers {
		m.Tracers = append(m.Tracers, tracerEntry{
			Name:     t.Name,
			Quantity: t.Quantity,
			Spin:     t.Spin,
			Nu:       t.Nu,
		})
	}
	for _, g := range s.groups {
		m.Data = append(m.Data, groupEntry{
			DataType: g.DataType,
			Tracer1:  g.Tracer1,
			Tracer2:  g.Tracer2,
			N:        len(g.Value),
		})
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("sacc: encode manifest: %w", err)
	}

	w, err := npzio.Create(path)
	if err != nil {
		return err
	}
	if err := s.writePayload(w, raw); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *Sacc) writePayload(w *npzio.Writer, rawManifest []byte) error {
	if err := w.WriteRaw("manifest.yaml", rawManifest); err != nil {
		return err
	}
	for _, t := range s.tracers {
		arrays := []struct {
			name string
			data []float64
		}{
			{"ell", t.Ell},
			{"beam", t.Beam},
			{"bandpass", t.Bandpass},
		}
		for _, arr := range arrays {
			data := arr.data
			if data == nil {
				data = []float64{}
			}
			if err := w.Write(tracerKey(t.Name, arr.name), data); err != nil {
				return err
			}
		}
	}
	for i, g := range s.groups {
		if err := w.Write(groupKey(i, "ell"), g.Ell); err != nil {
			return err
		}
		if err := w.Write(groupKey(i, "value"), g.Value); err != nil {
			return err
		}
		if err := w.Write(groupKey(i, "window"), g.Window); err != nil {
			return err
		}
	}
	if s.cov != nil {
		if err := w.Write("covariance", s.cov); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a container previously written by Save. The round trip
// preserves tracer and data-point counts and reproduces the covariance
// bit-identically.
func Load(path string) (*Sacc, error) {
	a, err := npzio.Open(path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	raw, err := a.ReadRaw("manifest.yaml")
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("sacc: decode manifest in %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("sacc: unsupported container version %d in %s", m.Version, path)
	}

	s := New()
	for _, te := range m.Tracers {
		t := Tracer{
			Name:     te.Name,
			Quantity: te.Quantity,
			Spin:     te.Spin,
			Nu:       te.Nu,
		}
		if t.Ell, err = a.Float1D(tracerKey(te.Name, "ell")); err != nil {
			return nil, err
		}
		if t.Beam, err = a.Float1D(tracerKey(te.Name, "beam")); err != nil {
			return nil, err
		}
		if t.Bandpass, err = a.Float1D(tracerKey(te.Name, "bandpass")); err != nil {
			return nil, err
		}
		if err := s.AddTracer(t); err != nil {
			return nil, err
		}
	}
	for i, ge := range m.Data {
		ell, err := a.Float1D(groupKey(i, "ell"))
		if err != nil {
			return nil, err
		}
		value, err := a.Float1D(groupKey(i, "value"))
		if err != nil {
			return nil, err
		}
		window, err := a.Float1D(groupKey(i, "window"))
		if err != nil {
			return nil, err
		}
		if len(value) != ge.N {
			return nil, fmt.Errorf("sacc: group %d in %s has %d values, manifest says %d",
				i, path, len(value), ge.N)
		}
		if err := s.AddEllCl(ge.DataType, ge.Tracer1, ge.Tracer2, ell, value, window); err != nil {
			return nil, err
		}
	}
	if m.HasCovariance {
		cov, err := a.Matrix("covariance")
		if err != nil {
			return nil, err
		}
		if err := s.AddCovariance(cov); err != nil {
			return nil, err
		}
	}
	return s, nil
}

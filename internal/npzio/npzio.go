// Package npzio reads and writes NumPy ".npz" archives, the input and
// payload format of this module: zip containers whose members are ".npy"
// arrays keyed by name.
package npzio

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotFound reports a missing or unreadable input archive.
	ErrNotFound = errors.New("npzio: input not found")
	// ErrMissingKey reports a key absent from a loaded archive.
	ErrMissingKey = errors.New("npzio: missing key")
)

// Archive is a read-only view of an npz file.
type Archive struct {
	path    string
	rc      *zip.ReadCloser
	entries map[string]*zip.File
}

// Open opens an npz archive for reading. A missing or malformed file is
// reported as ErrNotFound.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	a := &Archive{
		path:    path,
		rc:      rc,
		entries: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		a.entries[f.Name] = f
	}
	return a, nil
}

// Close releases the underlying file.
func (a *Archive) Close() error { return a.rc.Close() }

// Keys lists the array names in the archive, sorted, without the ".npy"
// member suffix.
func (a *Archive) Keys() []string {
	keys := make([]string, 0, len(a.entries))
	for name := range a.entries {
		if strings.HasSuffix(name, ".npy") {
			keys = append(keys, strings.TrimSuffix(name, ".npy"))
		}
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether an array with the given key exists.
func (a *Archive) Has(key string) bool {
	_, ok := a.entries[key+".npy"]
	return ok
}

func (a *Archive) open(name string) (io.ReadCloser, error) {
	f, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrMissingKey, name, a.path)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("npzio: open %q in %s: %w", name, a.path, err)
	}
	return r, nil
}

// Read decodes the array stored under key into ptr. Supported targets are
// the pointer kinds npyio accepts, e.g. *[]float64, *[]int64 and *mat.Dense.
func (a *Archive) Read(key string, ptr any) error {
	r, err := a.open(key + ".npy")
	if err != nil {
		return err
	}
	defer r.Close()
	if err := npyio.Read(r, ptr); err != nil {
		return fmt.Errorf("npzio: decode %q in %s: %w", key, a.path, err)
	}
	return nil
}

// ReadRaw returns the bytes of a non-array member, such as a manifest.
func (a *Archive) ReadRaw(name string) ([]byte, error) {
	r, err := a.open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Float1D reads a one-dimensional float64 array.
func (a *Archive) Float1D(key string) ([]float64, error) {
	var v []float64
	if err := a.Read(key, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Int1D reads a one-dimensional int64 array.
func (a *Archive) Int1D(key string) ([]int64, error) {
	var v []int64
	if err := a.Read(key, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Matrix reads a two-dimensional float64 array.
func (a *Archive) Matrix(key string) (*mat.Dense, error) {
	var m mat.Dense
	if err := a.Read(key, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadND reads an array of any rank, returning its shape and the flat
// row-major data. Fortran-ordered arrays are rejected.
func (a *Archive) ReadND(key string) (shape []int, data []float64, err error) {
	r, err := a.open(key + ".npy")
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("npzio: decode %q in %s: %w", key, a.path, err)
	}
	if nr.Header.Descr.Fortran {
		return nil, nil, fmt.Errorf("npzio: %q in %s: fortran order not supported", key, a.path)
	}
	shape = nr.Header.Descr.Shape
	n := 1
	for _, d := range shape {
		n *= d
	}
	data = make([]float64, n)
	if err := nr.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("npzio: decode %q in %s: %w", key, a.path, err)
	}
	return shape, data, nil
}

// Writer builds an npz archive.
type Writer struct {
	f  *os.File
	zw *zip.Writer
}

// Create opens a new npz archive at path, truncating any existing file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("npzio: create %s: %w", path, err)
	}
	return &Writer{f: f, zw: zip.NewWriter(f)}, nil
}

// Write encodes val as the ".npy" member named key. Accepted values are
// the kinds npyio encodes, e.g. []float64, []int64 and mat.Dense.
func (w *Writer) Write(key string, val any) error {
	entry, err := w.zw.Create(key + ".npy")
	if err != nil {
		return fmt.Errorf("npzio: add %q: %w", key, err)
	}
	if err := npyio.Write(entry, val); err != nil {
		return fmt.Errorf("npzio: encode %q: %w", key, err)
	}
	return nil
}

// WriteRaw stores raw bytes as a member with the exact given name.
func (w *Writer) WriteRaw(name string, data []byte) error {
	entry, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("npzio: add %q: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("npzio: write %q: %w", name, err)
	}
	return nil
}

// Close finalizes the archive. The Writer is unusable afterwards.
func (w *Writer) Close() error {
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("npzio: finalize %s: %w", w.f.Name(), err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("npzio: close %s: %w", w.f.Name(), err)
	}
	return nil
}

package model

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// Model bundles one loaded generation of predictor artifacts: the
// extractor built from the column manifest, the frozen scaler and the
// inference handle. Immutable after Load.
type Model struct {
	Version   string
	Dir       string
	Features  *feature.Extractor
	Predictor domain.Predictor
	LoadedAt  time.Time
}

// Load reads a model directory and returns a ready handle.
func Load(dir string, loc *time.Location) (*Model, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	extractor, err := feature.NewExtractor(manifest.Config.FeatureColumns, manifest.Scaler.Mean, manifest.Scaler.Scale, loc)
	if err != nil {
		return nil, err
	}

	return &Model{
		Version:   manifest.Config.Version,
		Dir:       dir,
		Features:  extractor,
		Predictor: newLogisticPredictor(manifest.Weights, manifest.Config.Threshold),
		LoadedAt:  time.Now().UTC(),
	}, nil
}

// Close releases the predictor.
func (m *Model) Close() error {
	return m.Predictor.Close()
}

// Registry serves the current model generation to concurrent checks and
// swaps generations atomically on reload. In-flight predictions keep the
// handle they started with; weights are never mutated in place.
type Registry struct {
	loc     *time.Location
	current atomic.Pointer[Model]
}

// NewRegistry loads the initial model from dir. A load failure here is
// an initialization error: the registry refuses to exist half-loaded.
func NewRegistry(dir string, loc *time.Location) (*Registry, error) {
	m, err := Load(dir, loc)
	if err != nil {
		return nil, err
	}
	r := &Registry{loc: loc}
	r.current.Store(m)
	return r, nil
}

// Current returns the active model generation.
func (r *Registry) Current() (*Model, error) {
	m := r.current.Load()
	if m == nil {
		return nil, fmt.Errorf("%w: no model loaded", domain.ErrInit)
	}
	return m, nil
}

// Reload loads a fresh model from dir and swaps it in. The previous
// generation is left open for in-flight predictions and reclaimed by GC.
func (r *Registry) Reload(dir string) (*Model, error) {
	m, err := Load(dir, r.loc)
	if err != nil {
		return nil, err
	}
	r.current.Store(m)
	return m, nil
}

// Close releases the active model.
func (r *Registry) Close() error {
	if m := r.current.Load(); m != nil {
		return m.Close()
	}
	return nil
}

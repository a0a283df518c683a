// Package model loads predictor artifacts and serves inference handles.
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Artifact file names within a model directory.
const (
	ConfigFile  = "model_config.json"
	ScalerFile  = "scaler_params.json"
	WeightsFile = "weights.json"
)

// ModelConfig mirrors model_config.json written by the trainer.
type ModelConfig struct {
	FeatureColumns []string `json:"feature_columns"`
	Version        string   `json:"version"`
	Threshold      float64  `json:"threshold"`
	ModelType      string   `json:"model_type"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

// ScalerParams mirrors scaler_params.json: the frozen standardization
// parameters the model was trained with.
type ScalerParams struct {
	FeatureColumns []string  `json:"feature_columns"`
	Mean           []float64 `json:"mean"`
	Scale          []float64 `json:"scale"`
}

// Weights mirrors weights.json: the exported coefficients.
type Weights struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Manifest is the validated union of the three artifact files.
type Manifest struct {
	Config  ModelConfig
	Scaler  ScalerParams
	Weights Weights
}

// LoadManifest reads and cross-validates the model artifacts. Any length
// or ordering mismatch among feature columns, scaler arrays and weights
// is fatal at load time.
func LoadManifest(dir string) (*Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(dir, ConfigFile), &m.Config); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, ScalerFile), &m.Scaler); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, WeightsFile), &m.Weights); err != nil {
		return nil, err
	}

	n := len(m.Config.FeatureColumns)
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no feature columns", domain.ErrInit, ConfigFile)
	}
	if len(m.Scaler.FeatureColumns) != n {
		return nil, fmt.Errorf("%w: scaler lists %d feature columns, model config lists %d",
			domain.ErrInit, len(m.Scaler.FeatureColumns), n)
	}
	for i, col := range m.Config.FeatureColumns {
		if m.Scaler.FeatureColumns[i] != col {
			return nil, fmt.Errorf("%w: feature column order mismatch at index %d: %q vs %q",
				domain.ErrInit, i, col, m.Scaler.FeatureColumns[i])
		}
	}
	if len(m.Scaler.Mean) != n || len(m.Scaler.Scale) != n {
		return nil, fmt.Errorf("%w: scaler arrays must have %d entries, got %d means and %d scales",
			domain.ErrInit, n, len(m.Scaler.Mean), len(m.Scaler.Scale))
	}
	if len(m.Weights.Coefficients) != n {
		return nil, fmt.Errorf("%w: weights list %d coefficients for %d feature columns",
			domain.ErrInit, len(m.Weights.Coefficients), n)
	}
	if m.Config.Threshold <= 0 || m.Config.Threshold >= 1 {
		m.Config.Threshold = 0.5
	}

	return &m, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", domain.ErrInit, filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", domain.ErrInit, filepath.Base(path), err)
	}
	return nil
}

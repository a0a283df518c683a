// Package feature converts transactions into the fixed-order numeric
// vectors the predictor was trained on.
package feature

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Base numeric columns preceding the category one-hot block.
const (
	colAmount    = "amt"
	colHour      = "hour"
	colMonth     = "month"
	colDayOfWeek = "dayofweek"
	colDay       = "day"
)

// Vector is a raw feature vector aligned to the model's column manifest.
// Constructed fresh per prediction and discarded after standardization.
type Vector struct {
	Columns []string
	Values  []float64
}

// Extractor derives feature vectors from transactions and standardizes
// them with the scaler persisted alongside the model. Pure: safe for
// concurrent use once constructed.
type Extractor struct {
	columns []string
	mean    []float64
	scale   []float64
	loc     *time.Location
}

// NewExtractor validates the column manifest against the scaler arrays
// and the closed category set. Any shape mismatch is a load-time error;
// the pipeline must not serve predictions past a bad manifest.
func NewExtractor(columns []string, mean, scale []float64, loc *time.Location) (*Extractor, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: feature column manifest is empty", domain.ErrInit)
	}
	if len(mean) != len(columns) || len(scale) != len(columns) {
		return nil, fmt.Errorf("%w: scaler length mismatch: %d columns, %d means, %d scales",
			domain.ErrInit, len(columns), len(mean), len(scale))
	}

	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		switch col {
		case colAmount, colHour, colMonth, colDayOfWeek, colDay:
		default:
			if !domain.Category(col).Valid() {
				return nil, fmt.Errorf("%w: unknown feature column %q", domain.ErrInit, col)
			}
		}
		known[col] = true
	}
	for _, cat := range domain.Categories() {
		if !known[string(cat)] {
			return nil, fmt.Errorf("%w: manifest missing category column %q", domain.ErrInit, cat)
		}
	}

	if loc == nil {
		loc = time.Local
	}

	return &Extractor{columns: columns, mean: mean, scale: scale, loc: loc}, nil
}

// Columns returns the manifest order the extractor produces.
func (e *Extractor) Columns() []string {
	out := make([]string, len(e.columns))
	copy(out, e.columns)
	return out
}

// Extract builds the raw feature vector for a transaction. Calendar
// fields use the configured location; day-of-week is 0=Sunday per the
// training data. Invalid input fails whole, never a partial vector.
func (e *Extractor) Extract(tx *domain.Transaction) (*Vector, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrValidation)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	ts := tx.Timestamp.In(e.loc)
	values := make([]float64, len(e.columns))
	for i, col := range e.columns {
		switch col {
		case colAmount:
			values[i] = tx.Amount
		case colHour:
			values[i] = float64(ts.Hour())
		case colMonth:
			values[i] = float64(ts.Month())
		case colDayOfWeek:
			values[i] = float64(ts.Weekday())
		case colDay:
			values[i] = float64(ts.Day())
		default:
			if col == string(tx.Category) {
				values[i] = 1
			}
		}
	}

	return &Vector{Columns: e.columns, Values: values}, nil
}

// Standardize applies the persisted scaler elementwise. A non-finite
// result (zero scale, NaN input) fails closed rather than clamping.
func (e *Extractor) Standardize(v *Vector) ([]float64, error) {
	if v == nil || len(v.Values) != len(e.columns) {
		return nil, fmt.Errorf("%w: vector length does not match manifest", domain.ErrModel)
	}

	out := make([]float64, len(v.Values))
	for i, raw := range v.Values {
		std := (raw - e.mean[i]) / e.scale[i]
		if math.IsNaN(std) || math.IsInf(std, 0) {
			return nil, fmt.Errorf("%w: non-finite standardized value for column %q", domain.ErrModel, e.columns[i])
		}
		out[i] = std
	}
	return out, nil
}

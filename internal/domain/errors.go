package domain

import "errors"

// Error kinds for the scoring pipeline. Callers match with errors.Is.
var (
	// ErrValidation marks malformed or missing transaction input.
	// Recoverable by the caller; never retried internally.
	ErrValidation = errors.New("validation error")

	// ErrModel marks predictor failures: not loaded, non-finite or
	// out-of-range output, feature/scaler shape mismatch. Fatal for the
	// current check, no fallback score is synthesized.
	ErrModel = errors.New("model error")

	// ErrStorage marks behavioral history store failures. Contained at
	// the velocity aggregation boundary as a zero-score stand-in.
	ErrStorage = errors.New("storage error")

	// ErrInit marks model or metadata load failures at startup. The
	// pipeline must not serve predictions in this state.
	ErrInit = errors.New("initialization error")
)

package domain

// Predictor is the opaque inference boundary. Implementations must be
// safe for concurrent Predict calls; the pipeline never inspects the
// model's architecture and relies only on the probability contract
// (both values in [0,1], summing to 1).
type Predictor interface {
	// Predict maps a standardized feature vector to class probabilities.
	Predict(features []float64) (Prediction, error)

	// Close releases model resources.
	Close() error
}

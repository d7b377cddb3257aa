package predict

import "context"

// Model is a trained sequence model. It receives a batch shaped
// (batch, sequence length, features) and returns one prediction vector per sample.
//
// Implementations used with Predictor.Parallelism > 1 must be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, batch [][][]float64) ([][]float64, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, batch [][][]float64) ([][]float64, error)

// Predict calls f.
func (f ModelFunc) Predict(ctx context.Context, batch [][][]float64) ([][]float64, error) {
	return f(ctx, batch)
}

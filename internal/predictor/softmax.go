package predictor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/ashureev/chairwatch/internal/domain"
)

// SoftmaxOptions tunes training.
type SoftmaxOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// Softmax is a multinomial logistic regression over the flattened feature window.
// Training builds new weights off to the side; Predict keeps using the old ones
// until the swap.
type Softmax struct {
	opts SoftmaxOptions

	mu      sync.RWMutex
	weights [][]float64 // one row per category, bias last
	closed  bool
}

// NewSoftmax creates an untrained model.
func NewSoftmax(opts SoftmaxOptions) *Softmax {
	if opts.Epochs <= 0 {
		opts.Epochs = 400
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}
	if opts.L2 < 0 {
		opts.L2 = 0
	}
	return &Softmax{opts: opts}
}

// Ready reports whether the model has been trained.
func (m *Softmax) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights != nil && !m.closed
}

// Close releases the weights. Later calls fail with ErrClosed.
func (m *Softmax) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.weights = nil
	return nil
}

// Train fits the model with batch gradient descent, starting from the current
// weights when the model is already trained.
func (m *Softmax) Train(ctx context.Context, examples []Example) error {
	xs := make([][]float64, 0, len(examples))
	ys := make([]int, 0, len(examples))
	for _, ex := range examples {
		x, err := Features(ex.Sequence)
		if err != nil {
			return err
		}
		y := categoryIndex(ex.Label)
		if y < 0 {
			return fmt.Errorf("unknown label %q", ex.Label)
		}
		xs = append(xs, append(x, 1))
		ys = append(ys, y)
	}
	if len(xs) == 0 {
		return fmt.Errorf("%w: no examples", ErrInsufficientData)
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	w := cloneWeights(m.weights)
	m.mu.RUnlock()

	k := len(domain.PredictedCategories)
	if w == nil {
		w = make([][]float64, k)
		for i := range w {
			w[i] = make([]float64, FeatureCount+1)
		}
	}

	grad := make([][]float64, k)
	for i := range grad {
		grad[i] = make([]float64, FeatureCount+1)
	}
	probs := make([]float64, k)
	n := float64(len(xs))

	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		if epoch%50 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for i := range grad {
			floats.Scale(0, grad[i])
		}
		for i, x := range xs {
			softmax(w, x, probs)
			for c := 0; c < k; c++ {
				coef := probs[c]
				if c == ys[i] {
					coef--
				}
				floats.AddScaled(grad[c], coef/n, x)
			}
		}
		for c := 0; c < k; c++ {
			if m.opts.L2 > 0 {
				floats.AddScaled(grad[c], m.opts.L2, w[c])
			}
			floats.AddScaled(w[c], -m.opts.LearningRate, grad[c])
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.weights = w
	return nil
}

// Predict returns all categories ordered by probability.
func (m *Softmax) Predict(seq []domain.BehaviorSample) ([]Prediction, error) {
	x, err := Features(seq)
	if err != nil {
		return nil, err
	}
	x = append(x, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.weights == nil {
		return nil, ErrNotTrained
	}

	probs := make([]float64, len(m.weights))
	softmax(m.weights, x, probs)

	inds := make([]int, len(probs))
	sorted := append([]float64(nil), probs...)
	floats.Argsort(sorted, inds)

	out := make([]Prediction, 0, len(inds))
	for i := len(inds) - 1; i >= 0; i-- {
		out = append(out, Prediction{
			Category:    domain.PredictedCategories[inds[i]],
			Probability: probs[inds[i]],
		})
	}
	return out, nil
}

func softmax(w [][]float64, x, out []float64) {
	for c := range w {
		out[c] = floats.Dot(w[c], x)
	}
	lse := floats.LogSumExp(out)
	for c := range out {
		out[c] = math.Exp(out[c] - lse)
	}
}

func cloneWeights(w [][]float64) [][]float64 {
	if w == nil {
		return nil
	}
	out := make([][]float64, len(w))
	for i := range w {
		out[i] = append([]float64(nil), w[i]...)
	}
	return out
}

package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/sensor"
)

// Trainer owns the model lifecycle: bootstrap on synthetic data, then periodic
// fine-tuning on observed behavior. Only one training run happens at a time.
type Trainer struct {
	model      Predictor
	minSamples int
	seed       uint64
	logger     *slog.Logger
	training   atomic.Bool
}

// NewTrainer wraps model. Retrain needs at least minSamples samples.
func NewTrainer(model Predictor, minSamples int, seed uint64, logger *slog.Logger) *Trainer {
	if minSamples < SequenceLength {
		minSamples = SequenceLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{model: model, minSamples: minSamples, seed: seed, logger: logger}
}

// Ready reports whether predictions can be served.
func (t *Trainer) Ready() bool {
	return t.model.Ready()
}

// Training reports whether a training run is active.
func (t *Trainer) Training() bool {
	return t.training.Load()
}

// Predict forwards to the model unless a training run is active.
func (t *Trainer) Predict(seq []domain.BehaviorSample) ([]Prediction, error) {
	if t.training.Load() {
		return nil, ErrTrainingInProgress
	}
	return t.model.Predict(seq)
}

// Bootstrap trains the model on seeded synthetic sequences.
func (t *Trainer) Bootstrap(ctx context.Context, n int) error {
	return t.run(ctx, "bootstrap", Synthetic(t.seed, n))
}

// Retrain fine-tunes the model on windows of observed samples labelled by Heuristic.
func (t *Trainer) Retrain(ctx context.Context, samples []domain.BehaviorSample) error {
	if len(samples) < t.minSamples {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(samples), t.minSamples)
	}
	return t.run(ctx, "retrain", Windows(samples))
}

func (t *Trainer) run(ctx context.Context, kind string, examples []Example) error {
	if !t.training.CompareAndSwap(false, true) {
		return ErrTrainingInProgress
	}
	defer t.training.Store(false)

	start := time.Now()
	if err := t.model.Train(ctx, examples); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	t.logger.Info("Predictor trained", "kind", kind, "examples", len(examples), "duration", time.Since(start))
	return nil
}

// Close closes the model.
func (t *Trainer) Close() error {
	return t.model.Close()
}

// sittingPositions lists the limb patterns the synthetic generator draws from.
var sittingPositions = []domain.Limbs{
	{LeftArm: true, RightArm: true, LeftLeg: true, RightLeg: true},
	{LeftArm: true, LeftLeg: true},
	{LeftArm: true, RightArm: true, LeftLeg: true},
	{RightArm: true, RightLeg: true},
	{LeftArm: true, RightArm: true, RightLeg: true},
	{LeftLeg: true, RightLeg: true},
	{LeftArm: true, RightArm: true},
	{LeftArm: true},
	{RightLeg: true},
	{LeftArm: true, RightLeg: true},
}

// Synthetic generates n labelled sequences from a seeded source.
func Synthetic(seed uint64, n int) []Example {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]Example, 0, n)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		weight := 45 + rng.Float64()*80
		minutes := rng.Float64() * 110
		changes := rng.IntN(20)
		limbs := sittingPositions[rng.IntN(len(sittingPositions))]

		seq := make([]domain.BehaviorSample, SequenceLength)
		for step := range seq {
			if rng.Float64() < 0.3 {
				limbs = sittingPositions[rng.IntN(len(sittingPositions))]
				changes++
			}
			seq[step] = domain.BehaviorSample{
				Timestamp:       base.Add(time.Duration(i*SequenceLength+step) * time.Minute),
				Weight:          weight,
				Position:        sensor.Position(limbs),
				SittingMinutes:  minutes + float64(step),
				Limbs:           limbs,
				PositionChanges: changes,
			}
		}
		out = append(out, Example{Sequence: seq, Label: Heuristic(seq)})
	}
	return out
}

package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	drepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/internal/domain/service"
	applogger "ForeCrypt/pkg/logger"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	artifactExt     = ".msgpack"
	envelopeVersion = 1
)

// AlgorithmLookup resolves a registry identifier.
type AlgorithmLookup interface {
	Lookup(id string) (service.Algorithm, error)
}

// envelope is the on-disk form of an artifact.
type envelope struct {
	Version  int    `msgpack:"v"`
	Checksum string `msgpack:"sha256"`
	Payload  []byte `msgpack:"payload"`
}

// ArtifactKey is the storage key for a pair's artifact.
func ArtifactKey(series models.SeriesID, model string) string {
	return models.PairKey{Series: series, Model: model}.String() + artifactExt
}

// ModelDispatcher routes fit, save, load and forecast calls to the algorithm
// configured for a model name.
type ModelDispatcher struct {
	algos   AlgorithmLookup
	descs   map[string]models.ModelDescriptor
	store   drepo.ArtifactStore
	metrics drepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

func NewModelDispatcher(algos AlgorithmLookup, descs []models.ModelDescriptor, store drepo.ArtifactStore, metrics drepo.Metrics, l *applogger.Logger) *ModelDispatcher {
	if l == nil {
		l = applogger.Nop()
	}
	byName := make(map[string]models.ModelDescriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}
	return &ModelDispatcher{algos: algos, descs: byName, store: store, metrics: metrics, l: l, now: time.Now}
}

func (d *ModelDispatcher) resolve(model string) (models.ModelDescriptor, service.Algorithm, error) {
	desc, ok := d.descs[model]
	if !ok {
		return models.ModelDescriptor{}, nil, fmt.Errorf("%w: %q", models.ErrUnknownModel, model)
	}
	algo, err := d.algos.Lookup(desc.AlgorithmID())
	if err != nil {
		return models.ModelDescriptor{}, nil, err
	}
	return desc, algo, nil
}

// FitAny fits the model's algorithm on frame with defaults <- descriptor params <- overrides.
func (d *ModelDispatcher) FitAny(ctx context.Context, model string, frame models.TrainingFrame, overrides models.Params) (*models.Artifact, error) {
	desc, algo, err := d.resolve(model)
	if err != nil {
		return nil, err
	}
	if frame.Len() == 0 {
		return nil, fmt.Errorf("%w: empty training frame for %s__%s", models.ErrInsufficientData, frame.Series, model)
	}
	params := algo.Defaults().Merge(desc.Params, overrides)

	start := time.Now()
	state, err := algo.Fit(ctx, frame, params)
	if d.metrics != nil {
		d.metrics.RecordFit(algo.Name(), time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &models.FitError{Series: frame.Series, Model: model, Err: err}
	}
	return &models.Artifact{
		Series:       frame.Series,
		Model:        model,
		Algorithm:    algo.Name(),
		FitTimestamp: d.now().UTC(),
		Params:       params,
		State:        state,
	}, nil
}

// Save replaces the pair's artifact.
func (d *ModelDispatcher) Save(ctx context.Context, a *models.Artifact) error {
	payload, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	sum := sha256.Sum256(payload)
	blob, err := msgpack.Marshal(envelope{Version: envelopeVersion, Checksum: hex.EncodeToString(sum[:]), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	key := ArtifactKey(a.Series, a.Model)
	if err := d.store.Put(ctx, key, blob); err != nil {
		return fmt.Errorf("save artifact %s: %w", key, err)
	}
	a.Checksum = hex.EncodeToString(sum[:])
	return nil
}

// Load returns models.ErrArtifactNotFound before the first successful save and
// models.ErrCorruptArtifact when the stored blob fails verification.
func (d *ModelDispatcher) Load(ctx context.Context, series models.SeriesID, model string) (*models.Artifact, error) {
	key := ArtifactKey(series, model)
	blob, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := msgpack.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptArtifact, key, err)
	}
	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", models.ErrCorruptArtifact, key)
	}
	var a models.Artifact
	if err := msgpack.Unmarshal(env.Payload, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptArtifact, key, err)
	}
	if a.Series != series || a.Model != model {
		return nil, fmt.Errorf("%w: %s holds %s", models.ErrCorruptArtifact, key, a.Key())
	}
	a.Checksum = env.Checksum
	return &a, nil
}

func (d *ModelDispatcher) ModelExists(ctx context.Context, series models.SeriesID, model string) (bool, error) {
	return d.store.Exists(ctx, ArtifactKey(series, model))
}

// Predict runs the artifact's algorithm and returns its raw prediction.
func (d *ModelDispatcher) Predict(ctx context.Context, a *models.Artifact, history models.HistoricalWindow, horizon int) (models.Prediction, error) {
	algo, err := d.algos.Lookup(a.Algorithm)
	if err != nil {
		return models.Prediction{}, err
	}
	if horizon <= 0 {
		return models.Prediction{}, nil
	}
	pred, err := algo.Forecast(ctx, a.State, history, horizon)
	if err != nil {
		if errors.Is(err, models.ErrCorruptArtifact) || errors.Is(err, models.ErrInsufficientData) {
			return models.Prediction{}, err
		}
		return models.Prediction{}, fmt.Errorf("forecast %s: %w", a.Key(), err)
	}
	return pred, nil
}

// Forecast returns the next horizon values after the end of history.
func (d *ModelDispatcher) Forecast(ctx context.Context, a *models.Artifact, history models.HistoricalWindow, horizon int) ([]float64, error) {
	pred, err := d.Predict(ctx, a, history, horizon)
	if err != nil {
		return nil, err
	}
	return pred.Values, nil
}

// Descriptor returns the configured descriptor for model.
func (d *ModelDispatcher) Descriptor(model string) (models.ModelDescriptor, bool) {
	desc, ok := d.descs[model]
	return desc, ok
}

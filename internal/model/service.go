// Package model implements the scoring service behind the model API.
//
// The scorer is a deterministic stand-in for the neural model: predictions
// are derived from a stable hash of the subject identifier, so the service
// is reproducible across runs while presenting the full load/predict
// lifecycle of the real thing.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// ErrModelNotLoaded is returned by predictions before Load has succeeded.
var ErrModelNotLoaded = errors.New("model not loaded")

// batchWorkers bounds concurrent scoring within one batch request.
const batchWorkers = 8

// Prediction is a scored address, in the wire shape of the model API.
type Prediction struct {
	Address          string             `json:"address"`
	RiskType         string             `json:"risk_type"`
	RiskLevel        string             `json:"risk_level"`
	Confidence       float64            `json:"confidence"`
	Description      string             `json:"description"`
	PredictionScores map[string]float64 `json:"prediction_scores"`
	Timestamp        string             `json:"timestamp"`
}

// TxPrediction is a scored transaction. The coarse scale reports a single
// risk_score instead of a per-category breakdown.
type TxPrediction struct {
	TxHash      string  `json:"tx_hash"`
	RiskType    string  `json:"risk_type"`
	RiskScore   float64 `json:"risk_score"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
}

// BatchEntry is one result of a batch prediction. Entries for subjects
// that could not be scored carry only the address and an error message.
type BatchEntry struct {
	Prediction
	Error string `json:"error,omitempty"`
}

// Service holds the model lifecycle state and serves predictions.
// Safe for concurrent use.
type Service struct {
	mu        sync.RWMutex
	loaded    bool
	modelPath string
	device    string
	loadedAt  time.Time
}

// NewService creates an unloaded scoring service.
func NewService() *Service {
	return &Service{device: "cpu"}
}

// Load marks the model ready to serve. A non-empty path must point to an
// existing weights file; an empty path loads the built-in scorer.
func (s *Service) Load(ctx context.Context, path string) error {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("model weights %s: %w", path, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.modelPath = path
	s.loadedAt = risk.Now()
	return nil
}

// Loaded reports whether predictions can be served.
func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Device returns the compute device the model runs on.
func (s *Service) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// PredictAddress scores one address. The auxiliary transaction data is
// accepted for wire compatibility but does not influence the stand-in
// scorer.
func (s *Service) PredictAddress(ctx context.Context, address string, txData map[string]any) (*Prediction, error) {
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if !validation.IsValidAddress(address) {
		return nil, fmt.Errorf("invalid address format: %s", address)
	}

	subject := validation.NormalizeAddress(address)
	score := risk.DeriveScore(subject)
	cat := risk.ClassifyAddress(score)

	scores := make(map[string]float64, len(risk.AddressCategories))
	for c, v := range risk.CrudeScores(risk.AddressCategories, cat, score) {
		scores[string(c)] = v
	}

	return &Prediction{
		Address:          subject,
		RiskType:         string(cat),
		RiskLevel:        string(risk.LevelFor(cat)),
		Confidence:       score,
		Description:      risk.Describe(cat),
		PredictionScores: scores,
		Timestamp:        risk.Now().Format(time.RFC3339),
	}, nil
}

// PredictTransaction scores one transaction hash on the coarse scale.
func (s *Service) PredictTransaction(ctx context.Context, txHash string, txData map[string]any) (*TxPrediction, error) {
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if !validation.IsValidTxHash(txHash) {
		return nil, fmt.Errorf("invalid transaction hash format: %s", txHash)
	}

	subject := validation.NormalizeTxHash(txHash)
	score := risk.DeriveScore(subject)
	cat := risk.ClassifyTransaction(score)

	return &TxPrediction{
		TxHash:      subject,
		RiskType:    string(cat),
		RiskScore:   score,
		Description: risk.Describe(cat),
		Timestamp:   risk.Now().Format(time.RFC3339),
	}, nil
}

// PredictBatch scores a set of addresses with a bounded worker pool.
// Results preserve input order; a subject that cannot be scored yields a
// per-entry error instead of failing the batch.
func (s *Service) PredictBatch(ctx context.Context, addresses []string) ([]BatchEntry, error) {
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}

	results := make([]BatchEntry, len(addresses))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)

	for i, addr := range addresses {
		g.Go(func() error {
			p, err := s.PredictAddress(ctx, addr, nil)
			if err != nil {
				results[i] = BatchEntry{
					Prediction: Prediction{Address: addr},
					Error:      err.Error(),
				}
				return nil
			}
			results[i] = BatchEntry{Prediction: *p}
			return nil
		})
	}

	_ = g.Wait()
	return results, nil
}

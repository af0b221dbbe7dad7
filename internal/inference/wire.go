package inference

import (
	"encoding/json"
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
)

// Request and response shapes of the model server wire contract. The
// client must match these exactly; the server side lives in internal/model.

type addressRequest struct {
	Address         string         `json:"address"`
	TransactionData map[string]any `json:"transaction_data,omitempty"`
}

type transactionRequest struct {
	TxHash string         `json:"tx_hash"`
	TxData map[string]any `json:"tx_data,omitempty"`
}

type batchRequest struct {
	Addresses []string `json:"addresses"`
}

// envelope is the outer shape of every model server response.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Count  int             `json:"count"`
	Error  string          `json:"error"`
}

type healthPayload struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	Timestamp   string `json:"timestamp"`
}

// addressResult is the model server's per-address prediction. In batch
// responses an entry may carry only Address and Error for a subject the
// model could not score.
type addressResult struct {
	Address          string             `json:"address"`
	RiskType         string             `json:"risk_type"`
	RiskLevel        string             `json:"risk_level"`
	Confidence       float64            `json:"confidence"`
	Description      string             `json:"description"`
	PredictionScores map[string]float64 `json:"prediction_scores"`
	Timestamp        string             `json:"timestamp"`
	Error            string             `json:"error"`
}

// transactionResult uses the coarse scale and a single risk_score in place
// of confidence plus a score breakdown.
type transactionResult struct {
	TxHash      string  `json:"tx_hash"`
	RiskType    string  `json:"risk_type"`
	RiskScore   float64 `json:"risk_score"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
}

// parseTimestamp converts a wire timestamp into the assessment zone,
// falling back to the current time when the remote stamp is unusable.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(risk.Zone)
	}
	return risk.Now()
}

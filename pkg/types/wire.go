package types

import "encoding/json"

// MessageTypeAnalysisResult is the envelope discriminator for inspection results.
const MessageTypeAnalysisResult = "analysis_result"

// Envelope is the outer JSON object pushed over the inspection stream.
// Data is left raw so unknown message types can be skipped without decoding.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubCheck is one partial evaluation (tap or level) of an inspected bottle.
type SubCheck struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Image      string  `json:"image"`
}

// AnalysisResult mirrors the data payload of an analysis_result message.
// Tap and Level are pointers so a missing sub-check can be told apart from an empty one.
type AnalysisResult struct {
	ID               string    `json:"id"`
	BottleID         string    `json:"bottle_id"`
	Timestamp        string    `json:"timestamp"`
	Tap              *SubCheck `json:"tap"`
	Level            *SubCheck `json:"level"`
	Status           string    `json:"status"`
	BottlesProcessed int       `json:"bottles_processed"`
}

// ClassifyResponse is the body returned by POST /api/analyze/{model}.
// Both naming conventions are accepted; pointers record which fields were present.
type ClassifyResponse struct {
	Label      *string  `json:"label,omitempty"`
	Prediction *string  `json:"prediction,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

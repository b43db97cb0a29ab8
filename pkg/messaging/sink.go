package messaging

import (
	"time"

	"voxpipe-server/pkg/session"
)

// TurnMessage is the wire form of a persisted conversation turn.
type TurnMessage struct {
	SessionID    string    `json:"session_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Emotion      string    `json:"emotion,omitempty"`
	EmotionScore float64   `json:"emotion_score,omitempty"`
	VoiceInput   bool      `json:"voice_input"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sink accepts finished conversation turns for durable storage. Publishing is
// fire-and-forget from the pipeline's perspective; failures are logged by the
// implementation and never propagate.
type Sink interface {
	PublishTurn(sessionID string, turn session.Turn) error
}

// NoopSink discards turns. Used when no persistence backend is configured.
type NoopSink struct{}

// PublishTurn discards the turn.
func (NoopSink) PublishTurn(sessionID string, turn session.Turn) error {
	return nil
}

package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one stored conversation message, with the optional emotion tag
// attached when the message came from analyzed voice input.
type Turn struct {
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Emotion      string    `json:"emotion,omitempty"`
	EmotionScore float64   `json:"emotion_score,omitempty"`
	VoiceInput   bool      `json:"voice_input"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryStore provides ordered access to a session's prior turns.
type HistoryStore interface {
	// History returns the session's turns in insertion order. An unknown
	// session is an empty history, not an error.
	History(ctx context.Context, sessionID string) ([]Turn, error)

	// Append adds a turn to the end of the session's history.
	Append(ctx context.Context, sessionID string, turn Turn) error
}

// MemoryHistoryStore is an in-memory HistoryStore.
type MemoryHistoryStore struct {
	mutex sync.RWMutex
	turns map[string][]Turn
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		turns: make(map[string][]Turn),
	}
}

// History returns a copy of the session's turns so callers never observe
// later appends through a shared slice.
func (s *MemoryHistoryStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stored := s.turns[sessionID]
	out := make([]Turn, len(stored))
	copy(out, stored)
	return out, nil
}

// Append adds a turn to the session's history.
func (s *MemoryHistoryStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// EmotionSummaryLimit caps the rolling summary length in characters.
const EmotionSummaryLimit = 200

// EmotionSummary builds the short rolling summary of emotion labels from the
// session's user turns, comma-joined in turn order and capped at
// EmotionSummaryLimit characters. Assistant turns and untagged turns are
// skipped.
func EmotionSummary(turns []Turn) string {
	var summary strings.Builder
	for _, turn := range turns {
		if turn.Role != RoleUser || turn.Emotion == "" {
			continue
		}
		if summary.Len() >= EmotionSummaryLimit {
			break
		}
		if summary.Len() > 0 {
			summary.WriteString(", ")
		}
		summary.WriteString(turn.Emotion)
	}
	return summary.String()
}

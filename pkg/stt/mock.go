package stt

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// MockProvider implements a mock speech-to-text provider for testing
type MockProvider struct {
	logger *logrus.Logger

	// Transcript is returned by every Transcribe call. Empty means the
	// manager substitutes the placeholder.
	Transcript string

	// Delay simulates vendor latency before a result is produced.
	Delay time.Duration

	// Err, when set, is returned instead of a transcript.
	Err error
}

// NewMockProvider creates a new mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{
		logger:     logger,
		Transcript: "Hello, this is a test transcription.",
	}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock STT provider initialized")
	return nil
}

// Transcribe waits out the configured delay, then returns the canned
// transcript. The context is respected so deadline behavior can be tested.
func (p *MockProvider) Transcribe(ctx context.Context, audioPath string, language string) (string, error) {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.Delay):
		}
	}

	if p.Err != nil {
		return "", p.Err
	}

	p.logger.WithFields(logrus.Fields{
		"audio_path": audioPath,
		"language":   language,
	}).Debug("Mock transcription generated")

	return p.Transcript, nil
}

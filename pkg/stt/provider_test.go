package stt

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRegisterAndGetProvider(t *testing.T) {
	logger := newTestLogger()
	manager := NewProviderManager(logger, "mock")

	mock := NewMockProvider(logger)
	require.NoError(t, manager.RegisterProvider(mock))

	provider, exists := manager.GetProvider("mock")
	assert.True(t, exists)
	assert.Equal(t, "mock", provider.Name())

	_, exists = manager.GetProvider("nope")
	assert.False(t, exists)
}

func TestTranscribeFallsBackToDefaultProvider(t *testing.T) {
	logger := newTestLogger()
	manager := NewProviderManager(logger, "mock")

	mock := NewMockProvider(logger)
	mock.Transcript = "fallback text"
	require.NoError(t, manager.RegisterProvider(mock))

	transcript, err := manager.Transcribe(context.Background(), "unknown", "/tmp/a.wav", "en")
	require.NoError(t, err)
	assert.Equal(t, "fallback text", transcript)
}

func TestTranscribeNoProviderAvailable(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "mock")

	_, err := manager.Transcribe(context.Background(), "unknown", "/tmp/a.wav", "en")
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestTranscribeEmptyResultUsesPlaceholder(t *testing.T) {
	logger := newTestLogger()
	manager := NewProviderManager(logger, "mock")

	mock := NewMockProvider(logger)
	mock.Transcript = "   "
	require.NoError(t, manager.RegisterProvider(mock))

	transcript, err := manager.Transcribe(context.Background(), "mock", "/tmp/a.wav", "en")
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTranscript, transcript)
}

func TestTranscribeProviderErrorIsReturned(t *testing.T) {
	logger := newTestLogger()
	manager := NewProviderManager(logger, "mock")

	mock := NewMockProvider(logger)
	mock.Err = errors.New("vendor unavailable")
	require.NoError(t, manager.RegisterProvider(mock))

	_, err := manager.Transcribe(context.Background(), "mock", "/tmp/a.wav", "en")
	assert.Error(t, err)
}

func TestMockProviderRespectsContext(t *testing.T) {
	logger := newTestLogger()
	mock := NewMockProvider(logger)
	mock.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.Transcribe(ctx, "/tmp/a.wav", "en")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

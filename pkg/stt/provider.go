package stt

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/metrics"
)

// PlaceholderTranscript is returned when a provider produces no usable text,
// so downstream stages always have non-empty text to reason about.
const PlaceholderTranscript = "Hello! I received your voice message. How can I help you?"

// Provider defines the interface for speech-to-text providers
type Provider interface {
	// Initialize initializes the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// Transcribe converts the audio file at audioPath to text
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
}

// ProviderManager manages all speech-to-text providers
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers a speech-to-text provider
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")

	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// Transcribe runs the named provider against the audio file, falling back to
// the default provider when the name is unknown. An empty transcript from a
// successful call is replaced with the placeholder; transport errors are
// returned to the caller and are fatal to the pipeline.
func (m *ProviderManager) Transcribe(ctx context.Context, providerName, audioPath, language string) (string, error) {
	provider, exists := m.GetProvider(providerName)
	if !exists {
		m.logger.WithFields(logrus.Fields{
			"provider":         providerName,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return "", ErrNoProviderAvailable
		}
	}

	recordDuration := metrics.ObserveTranscription(provider.Name())

	transcript, err := provider.Transcribe(ctx, audioPath, language)
	if err != nil {
		recordDuration("error")
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Transcription failed")
		return "", err
	}
	recordDuration("success")

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		m.logger.WithField("provider", provider.Name()).Warn("Provider returned empty transcript, using placeholder")
		return PlaceholderTranscript, nil
	}

	m.logger.WithFields(logrus.Fields{
		"provider":   provider.Name(),
		"char_count": len(transcript),
	}).Info("Transcription completed")

	return transcript, nil
}

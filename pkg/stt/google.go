package stt

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"voxpipe-server/pkg/config"
)

// GoogleProvider implements the Provider interface for Google Speech-to-Text
type GoogleProvider struct {
	logger *logrus.Logger
	client *speech.Client
	config *config.GoogleSTTConfig
}

// NewGoogleProvider creates a new Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, cfg *config.GoogleSTTConfig) *GoogleProvider {
	return &GoogleProvider{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client
func (p *GoogleProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	var clientOptions []option.ClientOption

	// Use API key if provided, otherwise use credentials file
	if p.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.APIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		p.logger.Warn("No Google STT credentials provided (API key or credentials file)")
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	var err error
	p.client, err = speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"sample_rate": p.config.SampleRate,
		"model":       p.config.Model,
	}).Info("Google Speech-to-Text client initialized successfully")
	return nil
}

// Transcribe sends the recorded audio file to Google Speech-to-Text and
// returns the combined transcript of all final results.
func (p *GoogleProvider) Transcribe(ctx context.Context, audioPath string, language string) (string, error) {
	if p.client == nil {
		return "", ErrInitializationFailed
	}

	audioData, err := os.ReadFile(audioPath)
	if err != nil {
		p.logger.WithError(err).WithField("audio_path", audioPath).Error("Failed to read audio file")
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}

	if language == "" {
		language = "en-US"
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
	}
	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		p.logger.WithError(err).WithField("audio_path", audioPath).Error("Google Speech-to-Text request failed")
		return "", fmt.Errorf("speech recognition failed: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		parts = append(parts, result.Alternatives[0].Transcript)
	}
	transcript := strings.TrimSpace(strings.Join(parts, " "))

	p.logger.WithFields(logrus.Fields{
		"language":   language,
		"word_count": len(strings.Fields(transcript)),
	}).Debug("Google transcription received")

	return transcript, nil
}

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/version"
)

// OpenAIProvider implements the Provider interface against the OpenAI
// Whisper transcription endpoint
type OpenAIProvider struct {
	logger *logrus.Logger
	config *config.OpenAISTTConfig
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI transcription provider
func NewOpenAIProvider(logger *logrus.Logger, cfg *config.OpenAISTTConfig) *OpenAIProvider {
	return &OpenAIProvider{
		logger: logger,
		config: cfg,
		client: &http.Client{},
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Initialize validates the provider configuration
func (p *OpenAIProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("OpenAI STT configuration is required")
	}
	if p.config.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	p.logger.Info("OpenAI transcription provider initialized")
	return nil
}

// Transcribe uploads the audio file as multipart form data and parses the
// JSON transcription response
func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	audioFile, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer audioFile.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create multipart file field: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return "", fmt.Errorf("failed to buffer audio file: %w", err)
	}

	if p.config.Model != "" {
		if err := writer.WriteField("model", p.config.Model); err != nil {
			return "", fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request to transcription API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcription response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	// Responses normally carry {"text": "..."}; some deployments return the
	// transcript as a bare string, so fall back to the raw body.
	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		p.logger.WithError(err).Warn("Transcription response parsing failed, returning raw response")
		return string(respBody), nil
	}

	text, ok := result["text"].(string)
	if !ok {
		return string(respBody), nil
	}

	p.logger.WithFields(logrus.Fields{
		"model":    p.config.Model,
		"language": language,
	}).Debug("OpenAI transcription received")

	return text, nil
}

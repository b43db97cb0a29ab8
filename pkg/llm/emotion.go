package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/fusion"
)

// Completer issues a chat completion. Satisfied by Client; narrowed so the
// analyzer and generator can be tested without a live endpoint.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

const emotionSystemPrompt = "You are an emotion analyst. Analyze the user's transcript below and " +
	"return JSON only, with these fields: primaryEmotion (string), emotionScores (map string->float), " +
	"situationLabel (string), confidence (0.0-1.0), recommendationKeywords (list). Classify emotions in " +
	"fine detail, beyond positive, negative and neutral: sarcastic, ironic, satirical, humorous, serious, " +
	"angry, sad, joyful, anxious, confused, embarrassed, surprised, disappointed, hopeful, loving, hateful, " +
	"envious, proud, ashamed, guilty, grateful, sympathetic, empathetic, indifferent and so on. Example: " +
	`{"primaryEmotion":"sarcastic","emotionScores":{"sarcastic":0.7,"displeased":0.2,"humorous":0.1},` +
	`"situationLabel":"ironic situation","confidence":0.85,"recommendationKeywords":["humor","empathy","respond seriously"]}. ` +
	"Never include any text, explanation, greeting, markdown, code block or quotes outside the JSON."

// Analyzer classifies the emotional content of a transcript with a single
// completion call.
type Analyzer struct {
	logger  *logrus.Logger
	client  Completer
	timeout time.Duration
}

// NewAnalyzer creates a semantic emotion analyzer. timeout bounds each
// Analyze call independently of the caller's context.
func NewAnalyzer(logger *logrus.Logger, client Completer, timeout time.Duration) *Analyzer {
	return &Analyzer{
		logger:  logger,
		client:  client,
		timeout: timeout,
	}
}

// Analyze classifies the transcript. On call failure or timeout it returns
// nil; analysis is never fatal to the caller. When the model response parses
// only partially, the parsed fields are kept and RawText always holds the
// full model output.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) *fusion.EmotionResult {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	messages := []Message{
		{Role: "system", Content: emotionSystemPrompt},
		{Role: "user", Content: "Transcript: " + transcript},
	}

	content, err := a.client.Complete(ctx, messages)
	if err != nil {
		a.logger.WithError(err).Warn("Emotion analysis call failed")
		return nil
	}

	result := &fusion.EmotionResult{RawText: content}
	parseEmotionJSON(a.logger, content, result)
	return result
}

// parseEmotionJSON extracts the JSON object between the first '{' and the
// last '}' and fills whatever fields parse. Missing or malformed fields are
// left empty rather than discarding the result.
func parseEmotionJSON(logger *logrus.Logger, content string, result *fusion.EmotionResult) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	jsonPart := content
	if start >= 0 && end > start {
		jsonPart = content[start : end+1]
	}

	var parsed struct {
		PrimaryEmotion         string             `json:"primaryEmotion"`
		EmotionScores          map[string]float64 `json:"emotionScores"`
		SituationLabel         string             `json:"situationLabel"`
		Confidence             float64            `json:"confidence"`
		RecommendationKeywords []string           `json:"recommendationKeywords"`
	}
	if err := json.Unmarshal([]byte(jsonPart), &parsed); err != nil {
		logger.WithFields(logrus.Fields{
			"error":   err,
			"content": content,
		}).Warn("Failed to parse emotion analysis JSON")
		return
	}

	result.PrimaryEmotion = parsed.PrimaryEmotion
	result.EmotionScores = parsed.EmotionScores
	result.SituationLabel = parsed.SituationLabel
	result.Confidence = parsed.Confidence
	result.RecommendationKeywords = parsed.RecommendationKeywords
}

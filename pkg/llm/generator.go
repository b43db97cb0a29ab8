package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/fusion"
	"voxpipe-server/pkg/metrics"
)

const personaPrompt = "You are Vox, a warm and playful AI companion. Empathize with how the user feels and keep replies short and quick. "

const continuityPrompt = " Always remember the earlier conversation and keep its context. When the user refers " +
	"to something discussed before, recall it concretely. Track how the user's emotional state has changed, " +
	"acknowledge earlier emotions such as sadness or anger, and respond with empathy. Keep the conversation " +
	"flowing naturally."

// Recommender supplies content suggestions for the deterministic fallback.
type Recommender interface {
	Lookup(keyword string) []string
}

// Generator produces the assistant reply from the transcript, the fused voice
// metadata and the capped conversation history.
type Generator struct {
	logger       *logrus.Logger
	client       Completer
	recommender  Recommender
	historyLimit int
	timeout      time.Duration
}

// NewGenerator creates a response generator. recommender may be nil; the
// canned fallback then answers without content suggestions.
func NewGenerator(logger *logrus.Logger, client Completer, recommender Recommender, historyLimit int, timeout time.Duration) *Generator {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Generator{
		logger:       logger,
		client:       client,
		recommender:  recommender,
		historyLimit: historyLimit,
		timeout:      timeout,
	}
}

// Generate builds the persona system message extended with voice-metadata
// directives, appends the capped history and the new user turn, and returns
// the model's reply. Any failure falls back to a deterministic keyword
// response; Generate never returns an error.
func (g *Generator) Generate(ctx context.Context, transcript string, meta *fusion.VoiceMetadata, history []Message) string {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{
		Role:    "system",
		Content: g.buildSystemMessage(meta) + continuityPrompt,
	})

	// Only the most recent turns travel to the model, oldest discarded.
	start := 0
	if len(history) > g.historyLimit {
		start = len(history) - g.historyLimit
	}
	messages = append(messages, history[start:]...)

	messages = append(messages, Message{Role: "user", Content: transcript})

	reply, err := g.client.Complete(ctx, messages)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			g.logger.WithError(err).Warn("Response generation failed, using fallback reply")
		} else {
			g.logger.Warn("Response generation returned empty content, using fallback reply")
		}
		metrics.RecordGenerationFallback()
		return g.fallbackResponse(transcript, meta)
	}

	return reply
}

// buildSystemMessage extends the persona with directives derived from the
// voice metadata so the reply style tracks how the user actually spoke.
func (g *Generator) buildSystemMessage(meta *fusion.VoiceMetadata) string {
	var b strings.Builder
	b.WriteString(personaPrompt)

	if meta == nil {
		b.WriteString("Understand the user's feelings and respond with warmth and a bit of fun. You can also recommend books, movies and music.")
		return b.String()
	}

	if summary := emotionSummaryFrom(meta.DetectedEmotions); summary != "" {
		b.WriteString("The user's recent conversational emotions: " + summary + ". Take them into account and respond with empathy. ")
	}

	if meta.Pitch != nil && *meta.Pitch != 0 {
		if *meta.Pitch > 1.2 {
			b.WriteString("The user is speaking in a high tone. Respond with extra brightness and energy. ")
		} else if *meta.Pitch < 0.8 {
			b.WriteString("The user is speaking in a low tone. Respond calmly and seriously. ")
		}
	}

	if meta.Speed != nil && *meta.Speed != 0 {
		if *meta.Speed > 1.3 {
			b.WriteString("The user is speaking quickly. Keep the reply brief and fast. ")
		} else if *meta.Speed < 0.7 {
			b.WriteString("The user is speaking slowly. Respond in more detail and with more empathy. ")
		}
	}

	if meta.Volume != nil && *meta.Volume != 0 {
		if *meta.Volume > 1.5 {
			b.WriteString("The user is speaking loudly. Express stronger empathy. ")
		} else if *meta.Volume < 0.5 {
			b.WriteString("The user is speaking softly. Respond gently and delicately. ")
		}
	}

	if meta.Duration != nil && *meta.Duration != 0 {
		if *meta.Duration > 30 {
			b.WriteString("The user spoke for a long time. Give a more thorough explanation. ")
		} else if *meta.Duration < 5 {
			b.WriteString("The user spoke briefly. Keep the reply concise. ")
		}
	}

	if meta.Confidence != nil && *meta.Confidence != 0 && *meta.Confidence < 0.7 {
		b.WriteString("Speech recognition was uncertain. Ask a clarifying question. ")
	}

	if meta.IsQuestion != nil && *meta.IsQuestion {
		b.WriteString("The user asked a question. Give a clear answer to it. ")
	}

	if len(meta.RecommendationKeywords) > 0 {
		b.WriteString("Suggested recommendation themes: " + strings.Join(meta.RecommendationKeywords, ", ") + ". ")
	}

	if meta.DetectedEmotions != "" {
		b.WriteString("Detected emotion signals: " + meta.DetectedEmotions + " ")

		lowered := strings.ToLower(meta.DetectedEmotions)
		switch {
		case containsAny(lowered, "sarcas", "ironic", "satir"):
			b.WriteString("The user sounds sarcastic or ironic. Either play along with humor or respond with sincere empathy. ")
		case containsAny(lowered, "anger", "angry", "furious"):
			b.WriteString("The user sounds angry. Help them calm down and show empathy. ")
		case containsAny(lowered, "sad", "depress", "gloomy"):
			b.WriteString("The user sounds sad. Console them and show empathy. ")
		case containsAny(lowered, "joy", "happy", "delight"):
			b.WriteString("The user sounds happy. Share in their joy. ")
		}
	}

	b.WriteString("Understand the user's feelings and respond with warmth and a bit of fun. You can also recommend books, movies and music.")
	return b.String()
}

// emotionSummaryFrom pulls the emotionSummary key out of the detected
// emotions JSON object. Unparsable content yields no summary.
func emotionSummaryFrom(detectedEmotions string) string {
	if detectedEmotions == "" {
		return ""
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(detectedEmotions), &obj); err != nil {
		return ""
	}
	summary, _ := obj["emotionSummary"].(string)
	return summary
}

// fallbackResponse is the deterministic keyword-matched reply used when the
// generation call fails. The pipeline must always produce some reply. The
// classifier's own recommendation keywords take precedence over transcript
// matching when any of them resolve to catalog entries.
func (g *Generator) fallbackResponse(transcript string, meta *fusion.VoiceMetadata) string {
	if meta != nil {
		if reply := g.keywordFallback(meta.RecommendationKeywords); reply != "" {
			return reply
		}
	}

	lowered := strings.ToLower(transcript)

	switch {
	case containsAny(lowered, "sad", "depress", "down", "hard", "tough"):
		return "It sounds like you're not feeling great. Some calm music or a warm movie can help at times like this" + g.suggestions("comfort") + ". Would you like that?"
	case containsAny(lowered, "happy", "glad", "great", "excited"):
		return "You sound like you're in a good mood! Something bright and upbeat would fit" + g.suggestions("upbeat") + ". Shall I suggest a few?"
	case containsAny(lowered, "book", "read"):
		return "Looking for a book? I can point you to some widely loved picks" + g.suggestions("book") + ". What genre do you enjoy?"
	case containsAny(lowered, "movie", "film", "watch"):
		return "A movie recommendation it is! Are you in the mood for a thriller, a romance or sci-fi" + g.suggestions("movie") + "?"
	case containsAny(lowered, "music", "song", "listen"):
		return "Music, great choice! Tell me what mood you're after and I'll find something" + g.suggestions("music") + "."
	default:
		return "Hello! What kind of content shall I recommend today? Books, movies or music, which are you curious about?"
	}
}

// keywordFallback builds a reply around the first classifier keyword that
// resolves to catalog entries. Empty when none do or no recommender is wired.
func (g *Generator) keywordFallback(keywords []string) string {
	if g.recommender == nil {
		return ""
	}
	for _, keyword := range keywords {
		items := g.recommender.Lookup(keyword)
		if len(items) == 0 {
			continue
		}
		if len(items) > 3 {
			items = items[:3]
		}
		return "Going by how you sound, something around " + keyword + " could suit you, for example " +
			strings.Join(items, ", ") + ". Want a few more like these?"
	}
	return ""
}

// suggestions renders cached recommendations as a short parenthetical.
func (g *Generator) suggestions(keyword string) string {
	if g.recommender == nil {
		return ""
	}
	items := g.recommender.Lookup(keyword)
	if len(items) == 0 {
		return ""
	}
	if len(items) > 3 {
		items = items[:3]
	}
	return " (for example " + strings.Join(items, ", ") + ")"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxpipe-server/pkg/fusion"
)

type fakeRecommender struct {
	items map[string][]string
}

func (f *fakeRecommender) Lookup(keyword string) []string {
	return f.items[keyword]
}

func TestGenerateReturnsModelReply(t *testing.T) {
	client := &fakeCompleter{response: "Glad to hear from you!"}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	reply := gen.Generate(context.Background(), "hello there", nil, nil)
	assert.Equal(t, "Glad to hear from you!", reply)

	require.NotEmpty(t, client.lastMessages)
	assert.Equal(t, "system", client.lastMessages[0].Role)
	assert.Equal(t, "user", client.lastMessages[len(client.lastMessages)-1].Role)
	assert.Equal(t, "hello there", client.lastMessages[len(client.lastMessages)-1].Content)
}

func TestGenerateCapsHistory(t *testing.T) {
	client := &fakeCompleter{response: "ok"}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	history := make([]Message, 80)
	for i := range history {
		history[i] = Message{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}

	gen.Generate(context.Background(), "latest", nil, history)

	// system + 50 history turns + new user turn
	require.Len(t, client.lastMessages, 52)
	assert.Equal(t, "turn 30", client.lastMessages[1].Content)
	assert.Equal(t, "turn 79", client.lastMessages[50].Content)
}

func TestGenerateSystemMessageCarriesDirectives(t *testing.T) {
	client := &fakeCompleter{response: "ok"}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	pitch := 1.5
	speed := 0.5
	volume := 0.3
	duration := 3.0
	confidence := 0.6
	isQuestion := true
	meta := &fusion.VoiceMetadata{
		Pitch:            &pitch,
		Speed:            &speed,
		Volume:           &volume,
		Duration:         &duration,
		Confidence:       &confidence,
		IsQuestion:       &isQuestion,
		DetectedEmotions: `{"primaryEmotion":"sad","emotionSummary":"sad, anxious"}`,
	}

	gen.Generate(context.Background(), "hello", meta, nil)

	system := client.lastMessages[0].Content
	assert.Contains(t, system, "high tone")
	assert.Contains(t, system, "speaking slowly")
	assert.Contains(t, system, "speaking softly")
	assert.Contains(t, system, "spoke briefly")
	assert.Contains(t, system, "recognition was uncertain")
	assert.Contains(t, system, "asked a question")
	assert.Contains(t, system, "sad, anxious")
	assert.Contains(t, system, "Console them")
	assert.Contains(t, system, "keep its context")
}

func TestGenerateFallbackOnError(t *testing.T) {
	client := &fakeCompleter{err: errors.New("endpoint down")}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	reply := gen.Generate(context.Background(), "I feel so sad today", nil, nil)
	assert.Contains(t, reply, "not feeling great")
}

func TestGenerateFallbackBuckets(t *testing.T) {
	client := &fakeCompleter{err: errors.New("endpoint down")}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	tests := []struct {
		transcript string
		expect     string
	}{
		{"I'm so happy right now", "good mood"},
		{"recommend me a book to read", "book"},
		{"any movie to watch tonight", "movie"},
		{"play some music for me", "Music"},
		{"completely unrelated words", "Hello!"},
	}

	for _, tc := range tests {
		reply := gen.Generate(context.Background(), tc.transcript, nil, nil)
		assert.Contains(t, reply, tc.expect, "transcript %q", tc.transcript)
	}
}

func TestGenerateFallbackUsesRecommendations(t *testing.T) {
	client := &fakeCompleter{err: errors.New("endpoint down")}
	rec := &fakeRecommender{items: map[string][]string{
		"movie": {"Arrival", "Parasite", "Interstellar", "Memento"},
	}}
	gen := NewGenerator(quietLogger(), client, rec, 50, time.Second)

	reply := gen.Generate(context.Background(), "what movie should I watch", nil, nil)
	assert.Contains(t, reply, "Arrival")
	assert.Contains(t, reply, "Parasite")
	assert.NotContains(t, reply, "Memento")
}

func TestGenerateFallbackPrefersClassifierKeywords(t *testing.T) {
	client := &fakeCompleter{err: errors.New("endpoint down")}
	rec := &fakeRecommender{items: map[string][]string{
		"comfort": {"Norwegian Wood", "About Time"},
	}}
	gen := NewGenerator(quietLogger(), client, rec, 50, time.Second)

	meta := &fusion.VoiceMetadata{
		RecommendationKeywords: []string{"unknown-theme", "comfort"},
	}

	// The transcript alone would hit the movie bucket; the classifier's
	// keywords win when one resolves.
	reply := gen.Generate(context.Background(), "what movie should I watch", meta, nil)
	assert.Contains(t, reply, "comfort")
	assert.Contains(t, reply, "Norwegian Wood")
	assert.Contains(t, reply, "About Time")
}

func TestGenerateFallbackUnresolvedKeywordsUseTranscript(t *testing.T) {
	client := &fakeCompleter{err: errors.New("endpoint down")}
	rec := &fakeRecommender{items: map[string][]string{}}
	gen := NewGenerator(quietLogger(), client, rec, 50, time.Second)

	meta := &fusion.VoiceMetadata{RecommendationKeywords: []string{"unknown-theme"}}

	reply := gen.Generate(context.Background(), "what movie should I watch", meta, nil)
	assert.Contains(t, reply, "movie recommendation")
}

func TestSystemMessageNamesRecommendationThemes(t *testing.T) {
	client := &fakeCompleter{response: "sure"}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	meta := &fusion.VoiceMetadata{RecommendationKeywords: []string{"comfort", "music"}}
	gen.Generate(context.Background(), "hello", meta, nil)

	require.NotEmpty(t, client.lastMessages)
	assert.Contains(t, client.lastMessages[0].Content, "Suggested recommendation themes: comfort, music")
}

func TestGenerateFallbackOnEmptyReply(t *testing.T) {
	client := &fakeCompleter{response: "   "}
	gen := NewGenerator(quietLogger(), client, nil, 50, time.Second)

	reply := gen.Generate(context.Background(), "anything", nil, nil)
	assert.NotEmpty(t, reply)
	assert.NotEqual(t, "   ", reply)
}

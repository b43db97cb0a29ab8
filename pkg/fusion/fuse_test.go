package fusion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseMapsAcousticFeatures(t *testing.T) {
	features := map[string]float64{
		FeaturePitch:      1.25,
		FeatureVolume:     0.42,
		FeatureConfidence: 0.91,
	}

	meta := Fuse(features, nil, "")

	require.NotNil(t, meta.Pitch)
	require.NotNil(t, meta.Volume)
	require.NotNil(t, meta.Confidence)
	assert.Equal(t, 1.25, *meta.Pitch)
	assert.Equal(t, 0.42, *meta.Volume)
	assert.Equal(t, 0.91, *meta.Confidence)
	assert.Empty(t, meta.DetectedEmotions)
}

func TestFuseMissingInputsProduceSparseValue(t *testing.T) {
	meta := Fuse(nil, nil, "")

	assert.Nil(t, meta.Pitch)
	assert.Nil(t, meta.Volume)
	assert.Nil(t, meta.Confidence)
	assert.Empty(t, meta.DetectedEmotions)
}

func TestFuseCarriesRecommendationKeywords(t *testing.T) {
	emotion := &EmotionResult{
		PrimaryEmotion:         "sadness",
		RecommendationKeywords: []string{"comfort", "music"},
		RawText:                `{"primaryEmotion":"sadness"}`,
	}

	meta := Fuse(nil, emotion, "")
	assert.Equal(t, []string{"comfort", "music"}, meta.RecommendationKeywords)

	meta = Fuse(nil, nil, "")
	assert.Empty(t, meta.RecommendationKeywords)
}

func TestFuseMergesSummaryIntoExistingObject(t *testing.T) {
	emotion := &EmotionResult{RawText: `{"primaryEmotion":"joy","confidence":0.8}`}

	meta := Fuse(nil, emotion, "joy, calm")

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(meta.DetectedEmotions), &obj))
	assert.Equal(t, "joy", obj["primaryEmotion"])
	assert.Equal(t, 0.8, obj["confidence"])
	assert.Equal(t, "joy, calm", obj["emotionSummary"])
}

func TestFuseCreatesObjectWhenNoClassifierOutput(t *testing.T) {
	meta := Fuse(nil, nil, "sadness")

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(meta.DetectedEmotions), &obj))
	assert.Equal(t, "sadness", obj["emotionSummary"])
}

func TestFusePreservesUnparsableClassifierOutput(t *testing.T) {
	emotion := &EmotionResult{RawText: "the model rambled instead of emitting JSON"}

	meta := Fuse(nil, emotion, "anger")

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(meta.DetectedEmotions), &obj))
	assert.Equal(t, "the model rambled instead of emitting JSON", obj["rawAnalysis"])
	assert.Equal(t, "anger", obj["emotionSummary"])
}

func TestFuseIsIndependentOfCompletionOrder(t *testing.T) {
	features := map[string]float64{FeaturePitch: 2.0, FeatureVolume: 0.5}
	emotion := &EmotionResult{RawText: `{"primaryEmotion":"pride"}`}

	a := Fuse(features, emotion, "pride")
	b := Fuse(features, emotion, "pride")

	assert.Equal(t, a, b)
}

func TestCombineAnalysis(t *testing.T) {
	combined := CombineAnalysis(`{"primaryEmotion":"envy"}`, map[string]float64{FeaturePitch: 1.1})

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(combined), &obj))
	assert.Equal(t, "envy", obj["primaryEmotion"])
	acoustic, ok := obj["acousticFeatures"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1.1, acoustic[FeaturePitch])
}

func TestCombineAnalysisWithoutFeatures(t *testing.T) {
	assert.Equal(t, `{"primaryEmotion":"envy"}`, CombineAnalysis(`{"primaryEmotion":"envy"}`, nil))
}

package fusion

// Acoustic feature names emitted by the analysis tool. The fusion step reads
// these three scalars out of the feature mapping.
const (
	FeaturePitch      = "F0final_sma"
	FeatureVolume     = "pcm_RMSenergy_sma"
	FeatureConfidence = "voicingFinalUnclipped_sma"
)

// VoiceMetadata describes how something was said. It is a value object:
// built fresh per request and never mutated after being handed to the
// response generator.
type VoiceMetadata struct {
	Pitch      *float64 `json:"pitch,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	SampleRate *int     `json:"sample_rate,omitempty"`
	IsQuestion *bool    `json:"is_question,omitempty"`

	// DetectedEmotions is a JSON object as text: the classifier's raw
	// diagnostic output, optionally extended with an emotionSummary key.
	DetectedEmotions string `json:"detected_emotions,omitempty"`

	// RecommendationKeywords carries the classifier's content suggestions
	// through to the response generator.
	RecommendationKeywords []string `json:"recommendation_keywords,omitempty"`
}

// EmotionResult is the output of the semantic emotion classifier. The label
// taxonomy is deliberately open-ended; labels are whatever the model emits.
type EmotionResult struct {
	PrimaryEmotion         string             `json:"primaryEmotion"`
	EmotionScores          map[string]float64 `json:"emotionScores"`
	SituationLabel         string             `json:"situationLabel"`
	Confidence             float64            `json:"confidence"`
	RecommendationKeywords []string           `json:"recommendationKeywords"`

	// RawText holds the unparsed model output. It is always populated,
	// even when structured parsing recovered nothing else.
	RawText string `json:"-"`
}

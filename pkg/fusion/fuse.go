package fusion

import "encoding/json"

// Fuse combines the acoustic feature mapping, the semantic emotion result and
// the rolling history emotion summary into one VoiceMetadata value. Any input
// may be absent; missing inputs just produce a sparser value. Fuse performs
// no I/O and never fails, and the output does not depend on which analysis
// finished first.
func Fuse(features map[string]float64, emotion *EmotionResult, historySummary string) VoiceMetadata {
	var meta VoiceMetadata

	if len(features) > 0 {
		if v, ok := features[FeaturePitch]; ok {
			meta.Pitch = floatPtr(v)
		}
		if v, ok := features[FeatureVolume]; ok {
			meta.Volume = floatPtr(v)
		}
		if v, ok := features[FeatureConfidence]; ok {
			meta.Confidence = floatPtr(v)
		}
	}

	if emotion != nil {
		meta.DetectedEmotions = emotion.RawText
		meta.RecommendationKeywords = emotion.RecommendationKeywords
	}

	if historySummary != "" {
		meta.DetectedEmotions = mergeEmotionKey(meta.DetectedEmotions, "emotionSummary", historySummary)
	}

	return meta
}

// mergeEmotionKey inserts key into the JSON object held by existing and
// returns the re-marshalled object. A missing or non-object existing value
// starts a fresh object, preserving unparsable text under rawAnalysis so the
// diagnostic output is never dropped.
func mergeEmotionKey(existing, key, value string) string {
	obj := make(map[string]interface{})
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &obj); err != nil {
			obj = map[string]interface{}{"rawAnalysis": existing}
		}
	}
	obj[key] = value

	merged, err := json.Marshal(obj)
	if err != nil {
		return existing
	}
	return string(merged)
}

// CombineAnalysis folds the acoustic feature mapping into the classifier's
// raw JSON under an acousticFeatures key, producing the analysis document
// stored on the job. Either input may be empty.
func CombineAnalysis(rawJSON string, features map[string]float64) string {
	if len(features) == 0 {
		return rawJSON
	}

	obj := make(map[string]interface{})
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &obj); err != nil {
			obj = map[string]interface{}{"rawAnalysis": rawJSON}
		}
	}
	obj["acousticFeatures"] = features

	combined, err := json.Marshal(obj)
	if err != nil {
		return rawJSON
	}
	return string(combined)
}

func floatPtr(v float64) *float64 { return &v }

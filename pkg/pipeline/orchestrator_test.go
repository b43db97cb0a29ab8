package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/fusion"
	"voxpipe-server/pkg/job"
	"voxpipe-server/pkg/llm"
	"voxpipe-server/pkg/messaging"
	"voxpipe-server/pkg/session"
)

type fakeTranscriber struct {
	transcript string
	err        error
	delay      time.Duration
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, providerName, audioPath, language string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.transcript, f.err
}

type fakeExtractor struct {
	features map[string]float64
	err      error
}

func (f *fakeExtractor) Enabled() bool { return true }

func (f *fakeExtractor) Extract(ctx context.Context, audioPath string) (map[string]float64, error) {
	return f.features, f.err
}

type fakeAnalyzer struct {
	result *fusion.EmotionResult
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, transcript string) *fusion.EmotionResult {
	return f.result
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	meta    *fusion.VoiceMetadata
	history []llm.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, transcript string, meta *fusion.VoiceMetadata, history []llm.Message) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta = meta
	f.history = history
	return f.reply
}

type recordingSink struct {
	mu    sync.Mutex
	turns []session.Turn
}

func (s *recordingSink) PublishTurn(sessionID string, turn session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

type fixture struct {
	orchestrator *Orchestrator
	jobs         *job.MemoryStore
	transcriber  *fakeTranscriber
	extractor    *fakeExtractor
	analyzer     *fakeAnalyzer
	generator    *fakeGenerator
	history      *session.MemoryHistoryStore
	sink         *recordingSink
}

func newFixture(t *testing.T, deadline time.Duration) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		jobs: job.NewMemoryStore(logger),
		transcriber: &fakeTranscriber{
			transcript: "hello there",
		},
		extractor: &fakeExtractor{
			features: map[string]float64{fusion.FeaturePitch: 1.0},
		},
		analyzer: &fakeAnalyzer{
			result: &fusion.EmotionResult{
				PrimaryEmotion: "joy",
				Confidence:     0.9,
				RawText:        `{"primaryEmotion":"joy","confidence":0.9}`,
			},
		},
		generator: &fakeGenerator{reply: "nice to hear from you"},
		history:   session.NewMemoryHistoryStore(),
		sink:      &recordingSink{},
	}

	cfg := &config.PipelineConfig{
		SyncDeadline:      deadline,
		AnalysisTimeout:   time.Second,
		GenerationTimeout: time.Second,
		HistoryLimit:      50,
		MaxBackgroundJobs: 4,
	}
	sttCfg := &config.STTConfig{RequestTimeout: time.Second}

	f.orchestrator = NewOrchestrator(logger, cfg, sttCfg, f.jobs, f.transcriber, f.extractor,
		f.analyzer, f.generator, f.history, f.sink)
	return f
}

func waitForStatus(t *testing.T, f *fixture, jobID string, status job.Status) *job.Job {
	t.Helper()
	var snapshot *job.Job
	require.Eventually(t, func() bool {
		j, err := f.orchestrator.GetJob(jobID)
		if err != nil {
			return false
		}
		snapshot = j
		return j.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return snapshot
}

func TestSubmitSyncFastPath(t *testing.T) {
	f := newFixture(t, time.Second)

	jobsCreated := 0
	f.jobs.Subscribe(func(j job.Job) {
		if j.Status == job.StatusPending {
			jobsCreated++
		}
	})

	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		SessionID: "s1",
	})
	require.NoError(t, err)

	assert.False(t, result.Async)
	assert.Equal(t, "nice to hear from you", result.Reply)
	assert.Empty(t, result.JobID)
	assert.Equal(t, 0, jobsCreated)
}

func TestSubmitSlowTranscriptionConvertsToJob(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.transcriber.delay = 150 * time.Millisecond

	start := time.Now()
	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		SessionID: "s1",
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, result.Async)
	assert.NotEmpty(t, result.JobID)
	assert.Empty(t, result.Reply)
	assert.Less(t, elapsed, 120*time.Millisecond, "job handle must return near the deadline")

	done := waitForStatus(t, f, result.JobID, job.StatusDone)
	assert.Equal(t, "hello there", done.Transcript)
	assert.Equal(t, "nice to hear from you", done.AssistantResponse)
	assert.NotEmpty(t, done.AnalysisJSON)
}

func TestSubmitExplicitAsync(t *testing.T) {
	f := newFixture(t, time.Second)

	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		SessionID: "s1",
		Async:     true,
	})
	require.NoError(t, err)
	assert.True(t, result.Async)
	require.NotEmpty(t, result.JobID)

	done := waitForStatus(t, f, result.JobID, job.StatusDone)
	assert.Equal(t, "s1", done.SessionID)
	assert.Equal(t, "hello there", done.Transcript)
}

func TestSubmitSyncTranscriptionErrorIsFatal(t *testing.T) {
	f := newFixture(t, time.Second)
	f.transcriber.err = errors.New("vendor unavailable")

	_, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
	})
	assert.Error(t, err)
}

func TestAsyncTranscriptionErrorFailsJob(t *testing.T) {
	f := newFixture(t, time.Second)
	f.transcriber.err = errors.New("vendor unavailable")

	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		Async:     true,
	})
	require.NoError(t, err)

	failed := waitForStatus(t, f, result.JobID, job.StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "transcription")
	assert.Empty(t, failed.AssistantResponse)
}

func TestDegradedAnalysisStillProducesReply(t *testing.T) {
	f := newFixture(t, time.Second)
	f.extractor.features = nil
	f.extractor.err = errors.New("tool exited with status 2")
	f.analyzer.result = nil

	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		SessionID: "s1",
		Async:     true,
	})
	require.NoError(t, err)

	done := waitForStatus(t, f, result.JobID, job.StatusDone)
	assert.Equal(t, "nice to hear from you", done.AssistantResponse)
	assert.Empty(t, done.AnalysisJSON)
	assert.Contains(t, done.ErrorMessage, "acoustic analysis")
	assert.Contains(t, done.ErrorMessage, "emotion analysis")
}

func TestSyncPathPersistsAnnotatedTurns(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, f.history.Append(ctx, "s1", session.Turn{
		Role: session.RoleUser, Content: "earlier message", Emotion: "sadness", EmotionScore: 0.7,
	}))

	_, err := f.orchestrator.Submit(ctx, SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		SessionID: "s1",
	})
	require.NoError(t, err)

	// Prior turn reaches the generator with its emotion annotation.
	require.Len(t, f.generator.history, 1)
	assert.Contains(t, f.generator.history[0].Content, "[emotion: sadness, score: 0.70]")

	// The fused metadata carries the rolling summary.
	require.NotNil(t, f.generator.meta)
	assert.Contains(t, f.generator.meta.DetectedEmotions, "emotionSummary")

	turns, err := f.history.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "hello there", turns[1].Content)
	assert.Equal(t, "joy", turns[1].Emotion)
	assert.True(t, turns[1].VoiceInput)
	assert.Equal(t, session.RoleAssistant, turns[2].Role)
	assert.Equal(t, 2, f.sink.count())
}

// stuckTranscriber never returns on its own; it records whether the call
// carried a deadline and blocks until the context resolves it.
type stuckTranscriber struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (s *stuckTranscriber) Transcribe(ctx context.Context, providerName, audioPath, language string) (string, error) {
	_, ok := ctx.Deadline()
	s.mu.Lock()
	s.hadDeadline = ok
	s.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *stuckTranscriber) sawDeadline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hadDeadline
}

func TestAsyncStuckTranscriberFailsJobAtSubDeadline(t *testing.T) {
	f := newFixture(t, time.Second)
	stuck := &stuckTranscriber{}
	f.orchestrator.transcriber = stuck
	f.orchestrator.sttTimeout = 40 * time.Millisecond

	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
		Async:     true,
	})
	require.NoError(t, err)

	snapshot := waitForStatus(t, f, result.JobID, job.StatusFailed)
	assert.Contains(t, snapshot.ErrorMessage, "transcription")
	assert.True(t, stuck.sawDeadline())
}

func TestConvertedJobStuckTranscriberFailsAtSubDeadline(t *testing.T) {
	f := newFixture(t, 15*time.Millisecond)
	stuck := &stuckTranscriber{}
	f.orchestrator.transcriber = stuck
	f.orchestrator.sttTimeout = 50 * time.Millisecond

	result, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.True(t, result.Async)

	snapshot := waitForStatus(t, f, result.JobID, job.StatusFailed)
	assert.Contains(t, snapshot.ErrorMessage, "transcription")
	assert.True(t, stuck.sawDeadline())
}

func TestCallerSuppliedSpeedReachesMetadata(t *testing.T) {
	f := newFixture(t, time.Second)
	speed := 1.6

	_, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		AudioPath: "/tmp/a.wav",
		SessionID: "s1",
		Speed:     &speed,
	})
	require.NoError(t, err)

	require.NotNil(t, f.generator.meta)
	require.NotNil(t, f.generator.meta.Speed)
	assert.Equal(t, 1.6, *f.generator.meta.Speed)
}

var _ messaging.Sink = (*recordingSink)(nil)

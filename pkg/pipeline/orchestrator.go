package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/errors"
	"voxpipe-server/pkg/fusion"
	"voxpipe-server/pkg/job"
	"voxpipe-server/pkg/llm"
	"voxpipe-server/pkg/messaging"
	"voxpipe-server/pkg/metrics"
	"voxpipe-server/pkg/session"
)

// Transcriber converts a stored audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, providerName, audioPath, language string) (string, error)
}

// FeatureExtractor produces the acoustic feature mapping for an audio file.
type FeatureExtractor interface {
	Enabled() bool
	Extract(ctx context.Context, audioPath string) (map[string]float64, error)
}

// EmotionAnalyzer classifies the emotional content of a transcript.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, transcript string) *fusion.EmotionResult
}

// ResponseGenerator produces the assistant reply.
type ResponseGenerator interface {
	Generate(ctx context.Context, transcript string, meta *fusion.VoiceMetadata, history []llm.Message) string
}

// SubmitRequest describes one voice message to process.
type SubmitRequest struct {
	AudioPath string
	UserID    string
	SessionID string
	Language  string
	Provider  string

	// Async forces job creation without attempting a synchronous reply.
	Async bool

	// Optional caller-supplied recording properties, folded into the fused
	// metadata when present.
	Duration   *float64
	Speed      *float64
	SampleRate *int
	IsQuestion *bool
}

// SubmitResult is either a synchronous reply or a job handle, never both.
type SubmitResult struct {
	Async bool   `json:"async"`
	Reply string `json:"reply,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

// Orchestrator runs the voice pipeline: transcription under a hard sync
// deadline, concurrent acoustic and semantic analysis, fusion, generation and
// turn persistence. When transcription misses the deadline the request
// converts into a background job against the same in-flight work.
type Orchestrator struct {
	logger      *logrus.Logger
	config      *config.PipelineConfig
	jobs        job.Store
	transcriber Transcriber
	extractor   FeatureExtractor
	analyzer    EmotionAnalyzer
	generator   ResponseGenerator
	history     session.HistoryStore
	sink        messaging.Sink

	// workers bounds concurrent background job goroutines.
	workers chan struct{}

	syncDeadline time.Duration

	// sttTimeout bounds every transcription call so a hung vendor
	// connection can never strand a job in RUNNING.
	sttTimeout time.Duration
}

// NewOrchestrator wires the pipeline together. extractor may be nil when
// acoustic analysis is not configured; sink must not be nil (use NoopSink).
func NewOrchestrator(
	logger *logrus.Logger,
	cfg *config.PipelineConfig,
	sttCfg *config.STTConfig,
	jobs job.Store,
	transcriber Transcriber,
	extractor FeatureExtractor,
	analyzer EmotionAnalyzer,
	generator ResponseGenerator,
	history session.HistoryStore,
	sink messaging.Sink,
) *Orchestrator {
	maxJobs := cfg.MaxBackgroundJobs
	if maxJobs <= 0 {
		maxJobs = 32
	}
	syncDeadline := cfg.SyncDeadline
	if syncDeadline <= 0 {
		syncDeadline = 7 * time.Second
	}
	sttTimeout := 30 * time.Second
	if sttCfg != nil && sttCfg.RequestTimeout > 0 {
		sttTimeout = sttCfg.RequestTimeout
	}
	return &Orchestrator{
		logger:       logger,
		config:       cfg,
		jobs:         jobs,
		transcriber:  transcriber,
		extractor:    extractor,
		analyzer:     analyzer,
		generator:    generator,
		history:      history,
		sink:         sink,
		workers:      make(chan struct{}, maxJobs),
		syncDeadline: syncDeadline,
		sttTimeout:   sttTimeout,
	}
}

type transcriptionResult struct {
	transcript string
	err        error
}

// Submit processes one voice message. With Async set, a job is created
// immediately and its id returned. Otherwise transcription is raced against
// the sync deadline: a win continues synchronously to a direct reply, a miss
// converts the request into a job carried forward by the same in-flight
// transcription call.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Async {
		j := o.jobs.Create(req.UserID)
		o.logger.WithFields(logrus.Fields{
			"job_id":     j.ID,
			"session_id": req.SessionID,
		}).Info("Async processing requested, job created")
		o.dispatchJob(j.ID, req, nil)
		return &SubmitResult{Async: true, JobID: j.ID}, nil
	}

	// The result channel is buffered so the transcription goroutine never
	// blocks, whichever timeline ends up consuming it. The call runs
	// detached from the request context: if the deadline converts this
	// request to a job, the in-flight call must survive the handler
	// returning. It still carries its own sub-deadline.
	resultChan := make(chan transcriptionResult, 1)
	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), o.sttTimeout)
		defer cancel()
		recordDuration := metrics.ObserveStage("transcription")
		transcript, err := o.transcriber.Transcribe(tctx, req.Provider, req.AudioPath, req.Language)
		recordDuration()
		resultChan <- transcriptionResult{transcript: transcript, err: err}
	}()

	timer := time.NewTimer(o.syncDeadline)
	defer timer.Stop()

	select {
	case result := <-resultChan:
		if result.err != nil {
			return nil, errors.Wrap(result.err, "transcription failed").WithField("audio_path", req.AudioPath)
		}
		reply := o.analyzeAndGenerate(ctx, result.transcript, req, "")
		return &SubmitResult{Reply: reply}, nil

	case <-timer.C:
		// Deadline missed: convert to a job. The in-flight transcription
		// call is not cancelled; the background routine consumes its
		// result when it lands.
		metrics.RecordSyncConversion()
		j := o.jobs.Create(req.UserID)
		o.logger.WithFields(logrus.Fields{
			"job_id":   j.ID,
			"deadline": o.syncDeadline,
		}).Info("Sync deadline exceeded, converted to background job")
		o.dispatchJob(j.ID, req, resultChan)
		return &SubmitResult{Async: true, JobID: j.ID}, nil
	}
}

// GetJob returns a snapshot of the job, or ErrJobNotFound.
func (o *Orchestrator) GetJob(id string) (*job.Job, error) {
	return o.jobs.Get(id)
}

// dispatchJob runs the pipeline against a job in the background. pending,
// when non-nil, carries an already-running transcription whose result the
// job adopts instead of starting a new call.
func (o *Orchestrator) dispatchJob(jobID string, req SubmitRequest, pending <-chan transcriptionResult) {
	go func() {
		o.workers <- struct{}{}
		defer func() { <-o.workers }()

		// The request context belongs to the HTTP caller and may already
		// be done; background work gets its own lifetime.
		ctx := context.Background()

		if err := o.jobs.Transition(jobID, job.StatusRunning, job.WithSessionID(req.SessionID)); err != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Error("Failed to mark job running")
			return
		}

		var result transcriptionResult
		if pending != nil {
			result = <-pending
		} else {
			tctx, cancel := context.WithTimeout(ctx, o.sttTimeout)
			recordDuration := metrics.ObserveStage("transcription")
			transcript, err := o.transcriber.Transcribe(tctx, req.Provider, req.AudioPath, req.Language)
			recordDuration()
			cancel()
			result = transcriptionResult{transcript: transcript, err: err}
		}

		if result.err != nil {
			metrics.RecordStageFailure("transcription")
			o.logger.WithError(result.err).WithField("job_id", jobID).Error("Job failed during transcription")
			if err := o.jobs.Transition(jobID, job.StatusFailed,
				job.AppendError(fmt.Sprintf("transcription: %v", result.err))); err != nil {
				o.logger.WithError(err).WithField("job_id", jobID).Error("Failed to mark job failed")
			}
			return
		}

		if err := o.jobs.Update(jobID, job.WithTranscript(result.transcript)); err != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Error("Failed to store transcript")
			return
		}

		reply := o.analyzeAndGenerate(ctx, result.transcript, req, jobID)

		if err := o.jobs.Transition(jobID, job.StatusDone, job.WithResponse(reply)); err != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Error("Failed to mark job done")
			return
		}

		o.logger.WithField("job_id", jobID).Info("Background job completed")
	}()
}

// analyzeAndGenerate runs the post-transcription stages: concurrent acoustic
// and semantic analysis, fusion with the session's emotion summary, reply
// generation and turn persistence. jobID is empty on the synchronous path;
// degraded failures are attached to the job when one exists and never stop
// the pipeline.
func (o *Orchestrator) analyzeAndGenerate(ctx context.Context, transcript string, req SubmitRequest, jobID string) string {
	analysisCtx := ctx
	if o.config.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		analysisCtx, cancel = context.WithTimeout(ctx, o.config.AnalysisTimeout)
		defer cancel()
	}

	var (
		wg       sync.WaitGroup
		features map[string]float64
		emotion  *fusion.EmotionResult
		degraded []string
		mu       sync.Mutex
	)

	if o.extractor != nil && o.extractor.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordDuration := metrics.ObserveStage("acoustic")
			defer recordDuration()

			extracted, err := o.extractor.Extract(analysisCtx, req.AudioPath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.RecordStageFailure("acoustic")
				degraded = append(degraded, fmt.Sprintf("acoustic analysis: %v", err))
				return
			}
			features = extracted
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		recordDuration := metrics.ObserveStage("semantic")
		defer recordDuration()

		result := o.analyzer.Analyze(analysisCtx, transcript)
		mu.Lock()
		defer mu.Unlock()
		if result == nil {
			metrics.RecordStageFailure("semantic")
			degraded = append(degraded, "emotion analysis returned no result")
			return
		}
		emotion = result
	}()

	// Fusion waits for both outcomes, success or failure.
	wg.Wait()

	turns, err := o.history.History(ctx, req.SessionID)
	if err != nil {
		o.logger.WithError(err).WithField("session_id", req.SessionID).Warn("Failed to load session history")
		turns = nil
	}

	meta := fusion.Fuse(features, emotion, session.EmotionSummary(turns))
	meta.Duration = req.Duration
	meta.Speed = req.Speed
	meta.SampleRate = req.SampleRate
	meta.IsQuestion = req.IsQuestion

	if jobID != "" {
		updates := []job.Update{}
		if emotion != nil || len(features) > 0 {
			var raw string
			if emotion != nil {
				raw = emotion.RawText
			}
			updates = append(updates, job.WithAnalysisJSON(fusion.CombineAnalysis(raw, features)))
		}
		for _, msg := range degraded {
			updates = append(updates, job.AppendError(msg))
		}
		if len(updates) > 0 {
			if err := o.jobs.Update(jobID, updates...); err != nil {
				o.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to store analysis results")
			}
		}
	}
	if len(degraded) > 0 {
		o.logger.WithFields(logrus.Fields{
			"job_id":   jobID,
			"failures": strings.Join(degraded, "; "),
		}).Warn("Pipeline continuing with partial metadata")
	}

	recordDuration := metrics.ObserveStage("generation")
	reply := o.generator.Generate(ctx, transcript, &meta, historyMessages(turns))
	recordDuration()

	o.persistTurns(ctx, req.SessionID, transcript, reply, emotion)

	return reply
}

// historyMessages converts stored turns to chat messages, annotating user
// turns with their recorded emotion so the model sees prior emotional
// context.
func historyMessages(turns []session.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		content := turn.Content
		if turn.Emotion != "" {
			content += fmt.Sprintf(" [emotion: %s, score: %.2f]", turn.Emotion, turn.EmotionScore)
		}
		messages = append(messages, llm.Message{Role: turn.Role, Content: content})
	}
	return messages
}

// persistTurns appends the finished user and assistant turns to session
// history and the durable sink. Failures are logged and do not affect the
// reply.
func (o *Orchestrator) persistTurns(ctx context.Context, sessionID, transcript, reply string, emotion *fusion.EmotionResult) {
	if sessionID == "" {
		return
	}

	userTurn := session.Turn{
		Role:       session.RoleUser,
		Content:    transcript,
		VoiceInput: true,
	}
	if emotion != nil {
		userTurn.Emotion = emotion.PrimaryEmotion
		userTurn.EmotionScore = emotion.Confidence
	}
	assistantTurn := session.Turn{
		Role:    session.RoleAssistant,
		Content: reply,
	}

	for _, turn := range []session.Turn{userTurn, assistantTurn} {
		if err := o.history.Append(ctx, sessionID, turn); err != nil {
			o.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to append turn to history")
		}
		if err := o.sink.PublishTurn(sessionID, turn); err != nil {
			o.logger.WithError(err).WithField("session_id", sessionID).Debug("Turn not published to sink")
		}
	}
}

package job

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a processing job
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the status is a terminal state
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// validTransitions maps each status to the set of statuses it may move to.
// Jobs progress PENDING -> RUNNING -> {DONE, FAILED} and never move again.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusDone, StatusFailed},
}

func transitionAllowed(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the unit of asynchronous pipeline work. Instances handed out by a
// Store are snapshots; only the owning worker mutates the stored record.
type Job struct {
	ID                string    `json:"id"`
	Status            Status    `json:"status"`
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id,omitempty"`
	Transcript        string    `json:"transcript,omitempty"`
	AnalysisJSON      string    `json:"analysis_json,omitempty"`
	AssistantResponse string    `json:"assistant_response,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Update mutates job fields during a transition or field update
type Update func(*Job)

// WithSessionID sets the session the job belongs to
func WithSessionID(sessionID string) Update {
	return func(j *Job) {
		j.SessionID = sessionID
	}
}

// WithTranscript sets the transcript produced by the transcription stage
func WithTranscript(transcript string) Update {
	return func(j *Job) {
		j.Transcript = transcript
	}
}

// WithAnalysisJSON sets the merged structured emotion analysis
func WithAnalysisJSON(analysisJSON string) Update {
	return func(j *Job) {
		j.AnalysisJSON = analysisJSON
	}
}

// WithResponse sets the generated assistant reply
func WithResponse(response string) Update {
	return func(j *Job) {
		j.AssistantResponse = response
	}
}

// AppendError accumulates a non-fatal sub-failure on the job record
func AppendError(msg string) Update {
	return func(j *Job) {
		if msg == "" {
			return
		}
		if j.ErrorMessage == "" {
			j.ErrorMessage = msg
			return
		}
		j.ErrorMessage = strings.Join([]string{j.ErrorMessage, msg}, "; ")
	}
}

// Listener receives a snapshot after every job creation or transition
type Listener func(Job)

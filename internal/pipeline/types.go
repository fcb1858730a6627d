package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// StageID names one of the three sequential stages of a run.
type StageID string

const (
	StageQuery     StageID = "query"
	StageRetrieval StageID = "retrieval"
	StageAnswer    StageID = "answer"
)

// Stages lists every stage in execution order.
var Stages = []StageID{StageQuery, StageRetrieval, StageAnswer}

// Valid reports whether s is a known stage.
func (s StageID) Valid() bool {
	return s == StageQuery || s == StageRetrieval || s == StageAnswer
}

// Number returns the 1-based position of the stage, or 0 if unknown.
func (s StageID) Number() int {
	for i, id := range Stages {
		if id == s {
			return i + 1
		}
	}
	return 0
}

// ResponseType is the shape the final answer must take.
type ResponseType string

const (
	ResponseQA       ResponseType = "qa"
	ResponseBulleted ResponseType = "bulleted"
	ResponseTable    ResponseType = "table"
	ResponseJSON     ResponseType = "json"
	ResponseReport   ResponseType = "report"
)

// ResponseTypes lists every accepted response type.
var ResponseTypes = []ResponseType{ResponseQA, ResponseBulleted, ResponseTable, ResponseJSON, ResponseReport}

// Valid reports whether r is a known response type.
func (r ResponseType) Valid() bool {
	for _, t := range ResponseTypes {
		if t == r {
			return true
		}
	}
	return false
}

// Language selects the answer language slot. The concrete language codes
// behind each slot come from configuration.
type Language string

const (
	LanguagePrimary   Language = "primary"
	LanguageSecondary Language = "secondary"
)

// Valid reports whether l is a known language slot.
func (l Language) Valid() bool {
	return l == LanguagePrimary || l == LanguageSecondary
}

// OutputContract is the (type, language) pair stage 1 fixes for the answer.
type OutputContract struct {
	Type     ResponseType `json:"type"`
	Language Language     `json:"language"`
}

// DefaultContract is used when the query worker leaves the contract unset.
func DefaultContract() OutputContract {
	return OutputContract{Type: ResponseQA, Language: LanguagePrimary}
}

// SourceTag records which retrieval source produced an evidence unit.
type SourceTag string

const (
	SourcePrimary   SourceTag = "primary"
	SourceSecondary SourceTag = "secondary"
)

// EvidenceUnit is one retrieved item of supporting material.
type EvidenceUnit struct {
	ID      string    `json:"id,omitempty"`
	Title   string    `json:"title,omitempty"`
	Content string    `json:"content"`
	URL     string    `json:"url,omitempty"`
	Source  SourceTag `json:"source"`
	Score   float64   `json:"score,omitempty"`
}

// Key identifies a unit across fetches: the source-assigned ID when
// present, otherwise a digest of the content.
func (u EvidenceUnit) Key() string {
	if u.ID != "" {
		return u.ID
	}
	sum := sha256.Sum256([]byte(u.Content))
	return "sha256:" + hex.EncodeToString(sum[:12])
}

// Verdict is the pass/fail judgment recorded on an Outcome.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// FailureKind tags a failed Outcome for diagnosis.
type FailureKind string

const (
	KindQuality      FailureKind = "quality"
	KindCollaborator FailureKind = "collaborator"
	KindNoCandidates FailureKind = "no_candidates"
	KindExhausted    FailureKind = "exhausted"
	KindLoopBudget   FailureKind = "loop_budget"
	KindCancelled    FailureKind = "cancelled"
)

// Outcome is the immutable record of one stage attempt. Invocation counts
// entries into the stage within the run; Attempt restarts at 1 on each entry.
// Exhausted marks the terminal failure that used up the stage budget; Kind
// still names what went wrong on that attempt.
type Outcome struct {
	Stage      StageID     `json:"stage"`
	Invocation int         `json:"invocation"`
	Attempt    int         `json:"attempt"`
	Verdict    Verdict     `json:"verdict"`
	Reason     string      `json:"reason,omitempty"`
	Kind       FailureKind `json:"kind,omitempty"`
	Terminal   bool        `json:"terminal,omitempty"`
	Exhausted  bool        `json:"exhausted,omitempty"`
	Source     SourceTag   `json:"source,omitempty"`
	Accepted   int         `json:"accepted,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Passed reports whether the attempt passed.
func (o Outcome) Passed() bool {
	return o.Verdict == VerdictPass
}

// Run status values used by run records and results.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

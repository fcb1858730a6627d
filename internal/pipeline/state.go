package pipeline

// PipelineState is the mutable context threaded through a single run.
// One instance is owned by one run; it is not safe for concurrent use.
//
// Evidence and history are append-only. Feedback is one-shot.
type PipelineState struct {
	runID            string
	originalQuestion string
	refinedQuestion  string
	searchDirective  string
	contract         OutputContract
	needsRetrieval   bool

	evidence     []EvidenceUnit
	evidenceKeys map[string]bool
	finalAnswer  string

	retryCounters map[StageID]int
	invocations   map[StageID]int
	backwardCount int
	feedback      string
	history       []Outcome
}

// NewState creates the state for a new run. Retrieval is assumed
// necessary until a classifier says otherwise.
func NewState(runID, question string) *PipelineState {
	return &PipelineState{
		runID:            runID,
		originalQuestion: question,
		contract:         DefaultContract(),
		needsRetrieval:   true,
		evidenceKeys:     make(map[string]bool),
		retryCounters:    make(map[StageID]int),
		invocations:      make(map[StageID]int),
	}
}

func (s *PipelineState) RunID() string            { return s.runID }
func (s *PipelineState) OriginalQuestion() string { return s.originalQuestion }
func (s *PipelineState) RefinedQuestion() string  { return s.refinedQuestion }
func (s *PipelineState) SearchDirective() string  { return s.searchDirective }
func (s *PipelineState) Contract() OutputContract { return s.contract }
func (s *PipelineState) FinalAnswer() string      { return s.finalAnswer }
func (s *PipelineState) NeedsRetrieval() bool     { return s.needsRetrieval }
func (s *PipelineState) BackwardCount() int       { return s.backwardCount }

// SetNeedsRetrieval records the upstream classifier signal.
func (s *PipelineState) SetNeedsRetrieval(v bool) {
	s.needsRetrieval = v
}

// SetQueryOutputs writes the accepted stage 1 outputs. An invalid contract
// field falls back to its default.
func (s *PipelineState) SetQueryOutputs(refined, directive string, c OutputContract) {
	def := DefaultContract()
	if !c.Type.Valid() {
		c.Type = def.Type
	}
	if !c.Language.Valid() {
		c.Language = def.Language
	}
	s.refinedQuestion = refined
	s.searchDirective = directive
	s.contract = c
}

// SetFinalAnswer writes the accepted stage 3 output.
func (s *PipelineState) SetFinalAnswer(answer string) {
	s.finalAnswer = answer
}

// Evidence returns a copy of the accepted evidence in acceptance order.
func (s *PipelineState) Evidence() []EvidenceUnit {
	out := make([]EvidenceUnit, len(s.evidence))
	copy(out, s.evidence)
	return out
}

// EvidenceCount returns the number of accepted units.
func (s *PipelineState) EvidenceCount() int {
	return len(s.evidence)
}

// HasEvidence reports whether a unit with the same key was already accepted.
func (s *PipelineState) HasEvidence(u EvidenceUnit) bool {
	return s.evidenceKeys[u.Key()]
}

// AppendEvidence appends units not already accepted and returns how many
// were added.
func (s *PipelineState) AppendEvidence(units ...EvidenceUnit) int {
	added := 0
	for _, u := range units {
		k := u.Key()
		if s.evidenceKeys[k] {
			continue
		}
		s.evidenceKeys[k] = true
		s.evidence = append(s.evidence, u)
		added++
	}
	return added
}

// RetryCount returns the failed-attempt counter for a stage.
func (s *PipelineState) RetryCount(stage StageID) int {
	return s.retryCounters[stage]
}

// IncrementRetry bumps the counter for a stage and returns the new value.
func (s *PipelineState) IncrementRetry(stage StageID) int {
	s.retryCounters[stage]++
	return s.retryCounters[stage]
}

// ResetRetry sets the counter for a stage back to zero.
func (s *PipelineState) ResetRetry(stage StageID) {
	s.retryCounters[stage] = 0
}

// EnterStage marks control entering a stage. It resets the stage's retry
// counter to zero and returns the invocation number.
func (s *PipelineState) EnterStage(stage StageID) int {
	s.retryCounters[stage] = 0
	s.invocations[stage]++
	return s.invocations[stage]
}

// Invocation returns how many times control has entered a stage.
func (s *PipelineState) Invocation(stage StageID) int {
	return s.invocations[stage]
}

// RecordBackward increments the global backward transition count.
func (s *PipelineState) RecordBackward() int {
	s.backwardCount++
	return s.backwardCount
}

// SetFeedback stores a note for the next worker invocation, replacing any
// note not yet consumed.
func (s *PipelineState) SetFeedback(note string) {
	s.feedback = note
}

// TakeFeedback returns the pending note and clears it.
func (s *PipelineState) TakeFeedback() string {
	f := s.feedback
	s.feedback = ""
	return f
}

// PendingFeedback returns the pending note without consuming it.
func (s *PipelineState) PendingFeedback() string {
	return s.feedback
}

// AppendOutcome adds an attempt record to the history.
func (s *PipelineState) AppendOutcome(o Outcome) {
	s.history = append(s.history, o)
}

// History returns a copy of the outcome log.
func (s *PipelineState) History() []Outcome {
	out := make([]Outcome, len(s.history))
	copy(out, s.history)
	return out
}

// LastTerminal returns the most recent terminal outcome.
func (s *PipelineState) LastTerminal() (Outcome, bool) {
	return LastTerminal(s.history)
}

// LastTerminal returns the most recent terminal outcome in history.
func LastTerminal(history []Outcome) (Outcome, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Terminal {
			return history[i], true
		}
	}
	return Outcome{}, false
}

// Snapshot is a serialisable copy of a PipelineState.
type Snapshot struct {
	RunID            string          `json:"run_id"`
	OriginalQuestion string          `json:"original_question"`
	RefinedQuestion  string          `json:"refined_question,omitempty"`
	SearchDirective  string          `json:"search_directive,omitempty"`
	Contract         OutputContract  `json:"output_contract"`
	NeedsRetrieval   bool            `json:"needs_retrieval"`
	Evidence         []EvidenceUnit  `json:"accepted_evidence,omitempty"`
	FinalAnswer      string          `json:"final_answer,omitempty"`
	RetryCounters    map[StageID]int `json:"stage_retry_counters"`
	BackwardCount    int             `json:"global_backward_count"`
	PendingFeedback  string          `json:"pending_feedback,omitempty"`
	History          []Outcome       `json:"history"`
}

// Snapshot copies the current state.
func (s *PipelineState) Snapshot() Snapshot {
	counters := make(map[StageID]int, len(s.retryCounters))
	for k, v := range s.retryCounters {
		counters[k] = v
	}
	return Snapshot{
		RunID:            s.runID,
		OriginalQuestion: s.originalQuestion,
		RefinedQuestion:  s.refinedQuestion,
		SearchDirective:  s.searchDirective,
		Contract:         s.contract,
		NeedsRetrieval:   s.needsRetrieval,
		Evidence:         s.Evidence(),
		FinalAnswer:      s.finalAnswer,
		RetryCounters:    counters,
		BackwardCount:    s.backwardCount,
		PendingFeedback:  s.feedback,
		History:          s.History(),
	}
}

package domain

// EventType discriminates pipeline events sent to the caller.
type EventType string

// Pipeline event types.
const (
	EventStep           EventType = "step"
	EventSubQueries     EventType = "subQueries"
	EventSubQueryStatus EventType = "subQueryStatus"
	EventSources        EventType = "sources"
	EventAnswerChunk    EventType = "answerChunk"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

// Pipeline stages reported via step events.
const (
	StepAnalyze    = "analyze"
	StepDecompose  = "decompose"
	StepSearch     = "search"
	StepSynthesize = "synthesize"
)

// Step statuses.
const (
	StepActive   = "active"
	StepComplete = "complete"
)

// Event is one message of the ordered pipeline event stream. Only the
// fields of the active variant are populated; everything else is omitted
// from the wire encoding.
type Event struct {
	Type EventType `json:"type"`

	// step
	Step   string `json:"step,omitempty"`
	Status string `json:"status,omitempty"`

	// subQueries
	SubQueries []SubQuery `json:"subQueries,omitempty"`

	// subQueryStatus (shares Status with step)
	ID          string `json:"id,omitempty"`
	ResultCount *int   `json:"resultCount,omitempty"`

	// sources
	Sources []SourceHit `json:"sources,omitempty"`

	// answerChunk
	Text string `json:"text,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// StepEvent builds a stage transition event.
func StepEvent(step, status string) Event {
	return Event{Type: EventStep, Step: step, Status: status}
}

// SubQueriesEvent announces the decomposed sub-query list.
func SubQueriesEvent(subQueries []SubQuery) Event {
	return Event{Type: EventSubQueries, SubQueries: subQueries}
}

// SubQueryStatusEvent reports per-sub-query retrieval progress.
// resultCount is attached only on completion.
func SubQueryStatusEvent(id, status string, resultCount *int) Event {
	return Event{Type: EventSubQueryStatus, ID: id, Status: status, ResultCount: resultCount}
}

// SourcesEvent carries the merged, ranked source list. Emitted at most once.
func SourcesEvent(sources []SourceHit) Event {
	return Event{Type: EventSources, Sources: sources}
}

// AnswerChunkEvent carries one incremental answer fragment.
func AnswerChunkEvent(text string) Event {
	return Event{Type: EventAnswerChunk, Text: text}
}

// ErrorEvent terminates the stream with a message.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// DoneEvent terminates the stream successfully.
func DoneEvent() Event {
	return Event{Type: EventDone}
}

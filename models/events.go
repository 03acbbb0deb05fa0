package models

// Event is a progress or result event emitted by a streaming pipeline.
// The set of implementations is closed; consumers switch over the concrete types.
type Event interface {
	isEvent()
}

// StatusEvent reports a human-readable pipeline stage
type StatusEvent struct {
	Message string `json:"message"`
}

// TextDeltaEvent carries a fragment of generated text
type TextDeltaEvent struct {
	Text string `json:"text"`
}

// ToolCallEvent reports that the model invoked a tool such as web search
type ToolCallEvent struct {
	Tool  string `json:"tool"`
	Input string `json:"input,omitempty"`
}

// ToolResultEvent reports that a tool returned
type ToolResultEvent struct {
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
}

// ExpertResolvedEvent lists the experts taking part in a collaboration
type ExpertResolvedEvent struct {
	Experts []ExpertRef `json:"experts"`
}

// RoundStartEvent opens a deliberation round
type RoundStartEvent struct {
	Round   int      `json:"round"`
	Experts []string `json:"experts"`
}

// ExpertThinkingEvent reports that an expert started answering
type ExpertThinkingEvent struct {
	Round      int    `json:"round"`
	PluginSlug string `json:"plugin_slug"`
}

// ExpertResponseEvent carries one expert's finished response
type ExpertResponseEvent struct {
	Round    int            `json:"round"`
	Response ExpertResponse `json:"response"`
}

// RoundCompleteEvent closes a deliberation round
type RoundCompleteEvent struct {
	Round     int `json:"round"`
	Responses int `json:"responses"`
}

// SynthesizingEvent reports that the consensus is being produced
type SynthesizingEvent struct{}

// ReviewStartEvent opens a document review
type ReviewStartEvent struct {
	DocumentTitle string `json:"document_title"`
	TotalSegments int    `json:"total_segments"`
	TotalBatches  int    `json:"total_batches"`
}

// BatchStartEvent reports that a worker claimed a batch
type BatchStartEvent struct {
	Batch    int `json:"batch"`
	Segments int `json:"segments"`
}

// AnnotationEvent carries one review finding
type AnnotationEvent struct {
	Batch      int              `json:"batch"`
	Annotation ReviewAnnotation `json:"annotation"`
}

// BatchCompleteEvent reports a successfully reviewed batch
type BatchCompleteEvent struct {
	Batch       int `json:"batch"`
	Annotations int `json:"annotations"`
}

// BatchErrorEvent reports a batch that produced no annotations because it failed
type BatchErrorEvent struct {
	Batch int    `json:"batch"`
	Error string `json:"error"`
}

// DoneEvent terminates a successful stream with the final result
type DoneEvent struct {
	Result any `json:"result"`
}

// ErrorEvent terminates a failed stream
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (StatusEvent) isEvent()         {}
func (TextDeltaEvent) isEvent()      {}
func (ToolCallEvent) isEvent()       {}
func (ToolResultEvent) isEvent()     {}
func (ExpertResolvedEvent) isEvent() {}
func (RoundStartEvent) isEvent()     {}
func (ExpertThinkingEvent) isEvent() {}
func (ExpertResponseEvent) isEvent() {}
func (RoundCompleteEvent) isEvent()  {}
func (SynthesizingEvent) isEvent()   {}
func (ReviewStartEvent) isEvent()    {}
func (BatchStartEvent) isEvent()     {}
func (AnnotationEvent) isEvent()     {}
func (BatchCompleteEvent) isEvent()  {}
func (BatchErrorEvent) isEvent()     {}
func (DoneEvent) isEvent()           {}
func (ErrorEvent) isEvent()          {}

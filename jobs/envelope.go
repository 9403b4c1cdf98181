package jobs

// WorkItemEnvelope is what actually travels through the queue: a typed
// wrapper so one Queue can carry several kinds of work items and the
// runner can dispatch each to its registered Handler by Type.
type WorkItemEnvelope struct {
	// ID uniquely identifies this work item across its lifetime,
	// independent of whatever transport id the underlying Queue assigns
	// its entry; it is what ProgressEvent.WorkItemID reports.
	ID      string
	Type    string
	Payload any

	// SendProgressReports gates the runner's automatic start/success/
	// failure ProgressEvent publications. Handler-originated Report
	// calls always publish regardless of this flag.
	SendProgressReports bool

	// MetricsName optionally overrides Type as the label used when
	// tagging this work item's duration/outcome metrics.
	MetricsName string
}

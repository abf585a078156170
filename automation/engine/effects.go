package engine

// Notice is a user-facing notification to be written at the end of a walk.
type Notice struct {
	Kind    string
	Message string
}

// AnalyticsRef is one analytics event collected during a walk.
type AnalyticsRef struct {
	Kind string
	Meta string
}

// Effects is the mutable container for walk side effects that are safe to
// defer: notices and analytics. Listener counters and outbound sends are
// NOT collected here; those are recorded immediately at dispatch time,
// because the send is the durable fact of record.
type Effects struct {
	Notices   []Notice
	Analytics []AnalyticsRef
}

func (e *Effects) Notify(kind, message string) {
	e.Notices = append(e.Notices, Notice{Kind: kind, Message: message})
}

func (e *Effects) RecordAnalytics(kind, meta string) {
	e.Analytics = append(e.Analytics, AnalyticsRef{Kind: kind, Meta: meta})
}

package events

// DoneSignal is the sentinel log value marking the end of a job's stream.
// Observers stop reading once they see it; nothing is ever pushed after it.
const DoneSignal = "DONE"

// ProgressEvent is one unit of job progress on the wire. Fields combine
// additively: a stage change usually carries a percent reset, a log line
// stands alone, and the final event of a successful publish carries the
// public URL.
type ProgressEvent struct {
	Stage    string   `json:"stage,omitempty"`
	Percent  *float64 `json:"percent,omitempty"`
	Log      string   `json:"log,omitempty"`
	Error    string   `json:"error,omitempty"`
	FinalURL string   `json:"final_url,omitempty"`
}

func StageEvent(stage string, percent float64) ProgressEvent {
	return ProgressEvent{Stage: stage, Percent: &percent}
}

func PercentEvent(percent float64) ProgressEvent {
	return ProgressEvent{Percent: &percent}
}

func LogEvent(line string) ProgressEvent {
	return ProgressEvent{Log: line}
}

func ErrorEvent(message string) ProgressEvent {
	return ProgressEvent{Error: message}
}

func FinalURLEvent(url string) ProgressEvent {
	return ProgressEvent{FinalURL: url}
}

func DoneEvent() ProgressEvent {
	return ProgressEvent{Log: DoneSignal}
}

// Terminal reports whether this event closes the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Log == DoneSignal
}

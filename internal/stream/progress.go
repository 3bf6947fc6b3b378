package stream

// Step names the stage a streamed turn reports.
type Step string

const (
	StepObserving  Step = "observing"
	StepEvents     Step = "events"
	StepWorldState Step = "worldstate"
)

const (
	// Cadence is the number of chunks between progress events.
	Cadence = 3
	// ExpectedChunks is the chunk count at which progress tops out.
	ExpectedChunks = 120
	// MaxProgress is the ceiling before the complete event.
	MaxProgress = 95
)

var steps = []struct {
	step    Step
	upTo    int
	message string
}{
	{StepObserving, 33, "Observing the world situation..."},
	{StepEvents, 66, "Actors are responding..."},
	{StepWorldState, MaxProgress, "Updating the world state..."},
}

// ProgressEvent is the data of a progress frame.
type ProgressEvent struct {
	Step      Step   `json:"step"`
	StepIndex int    `json:"stepIndex"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
}

// Progress turns a chunk count into synthetic progress. The reported value
// never decreases and stays at or below MaxProgress.
type Progress struct {
	last int
}

func NewProgress() *Progress {
	return &Progress{}
}

// Observe is called with the zero-based index of each chunk. It reports an
// event on every Cadence-th chunk.
func (p *Progress) Observe(index int) (ProgressEvent, bool) {
	count := index + 1
	if count%Cadence != 0 {
		return ProgressEvent{}, false
	}

	pct := count * MaxProgress / ExpectedChunks
	if pct > MaxProgress {
		pct = MaxProgress
	}
	if pct < p.last {
		pct = p.last
	}
	p.last = pct
	return progressAt(pct), true
}

func progressAt(pct int) ProgressEvent {
	for i, s := range steps {
		if pct <= s.upTo {
			return ProgressEvent{Step: s.step, StepIndex: i, Message: s.message, Progress: pct}
		}
	}
	last := steps[len(steps)-1]
	return ProgressEvent{Step: last.step, StepIndex: len(steps) - 1, Message: last.message, Progress: pct}
}

package model

// Kind identifies which variant a Message carries
type Kind int

const (
	KindReady Kind = iota
	KindLog
	KindDiff
	KindTaskDone
	KindError
	KindWorkingSet
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindLog:
		return "log"
	case KindDiff:
		return "diff"
	case KindTaskDone:
		return "task_done"
	case KindError:
		return "error"
	case KindWorkingSet:
		return "working_set"
	default:
		return "unknown"
	}
}

// Message is the unit sent from background execution contexts to the
// presentation loop. Only the fields belonging to Kind are set.
type Message struct {
	Kind   Kind
	Text   string   // KindLog, KindError
	Diff   *Diff    // KindDiff
	Files  []string // KindWorkingSet
	Source string   // name of the execution context that sent it
	Seq    uint64   // assigned by the channel on send
}

// Ready announces that session setup finished and input may be enabled.
func Ready() Message { return Message{Kind: KindReady} }

// Log appends a fragment of text to the session log.
func Log(text string) Message { return Message{Kind: KindLog, Text: text} }

// DiffReady reports a change applied by a completed turn.
func DiffReady(d *Diff) Message { return Message{Kind: KindDiff, Diff: d} }

// TaskDone is posted once after every exclusive task.
func TaskDone() Message { return Message{Kind: KindTaskDone} }

// Error reports a failure to the user.
func Error(text string) Message { return Message{Kind: KindError, Text: text} }

// WorkingSet carries a snapshot of the tracked files.
func WorkingSet(files []string) Message {
	cp := make([]string, len(files))
	copy(cp, files)
	return Message{Kind: KindWorkingSet, Files: cp}
}

// StreamChunk is one fragment produced by a streaming text source.
// EOS is true only on the final chunk, which carries no text.
type StreamChunk struct {
	Seq  int
	Text string
	EOS  bool
}

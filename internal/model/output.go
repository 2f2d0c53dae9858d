package model

import "time"

// OutputType represents the type of output line
type OutputType string

const (
	OutputTypeSystem    OutputType = "system"
	OutputTypeUserInput OutputType = "user_input"
	OutputTypeAssistant OutputType = "assistant"
	OutputTypeError     OutputType = "error"
	OutputTypeDiff      OutputType = "diff"
	OutputTypeCommand   OutputType = "command"
)

// OutputLine represents a single block of output in the session log.
// Assistant fragments of one turn accumulate into a single line.
type OutputLine struct {
	Text      string
	Type      OutputType
	Timestamp time.Time
}

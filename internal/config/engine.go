package config

import "strings"

// EngineKind selects the assistant engine
type EngineKind string

const (
	EngineCommand   EngineKind = "command"
	EngineAnthropic EngineKind = "anthropic"
)

// EngineInfo describes an assistant engine option
type EngineInfo struct {
	ID           EngineKind
	Name         string
	Description  string
	NeedsCommand bool
}

// AvailableEngines returns all available assistant engines
func AvailableEngines() []EngineInfo {
	return []EngineInfo{
		{
			ID:           EngineCommand,
			Name:         "Command",
			Description:  "Pipe the prompt to a shell command and stream its stdout",
			NeedsCommand: true,
		},
		{
			ID:          EngineAnthropic,
			Name:        "Anthropic",
			Description: "Stream from the Anthropic Messages API (ANTHROPIC_API_KEY)",
		},
	}
}

// LookupEngine finds an engine by id
func LookupEngine(id EngineKind) (EngineInfo, bool) {
	for _, e := range AvailableEngines() {
		if e.ID == id {
			return e, true
		}
	}
	return EngineInfo{}, false
}

func engineNames() string {
	var names []string
	for _, e := range AvailableEngines() {
		names = append(names, string(e.ID))
	}
	return strings.Join(names, ", ")
}

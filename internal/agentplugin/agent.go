// Package agentplugin defines the external agent collaborator contract
// (one coding-agent backend, detected and executed per iteration) and
// ships an Anthropic API-backed default implementation. A worker never
// talks to an Agent directly: engine.go adapts it to
// internal/worker.IterationEngine.
package agentplugin

import "context"

// Availability is what Detect reports about a backend.
type Availability struct {
	Available bool
	Version   string
	Error     string
}

// ExecuteOptions carries optional per-call overrides.
type ExecuteOptions struct {
	Model       string
	Temperature *float64
}

// ExecuteRequest describes one agent invocation.
type ExecuteRequest struct {
	Prompt  string
	Files   []string
	WorkDir string
	Opts    ExecuteOptions
}

// ToolCall is one tool invocation the agent made.
type ToolCall struct {
	Name  string
	Input string
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Content string
	IsError bool
}

// Completion is reported once the agent considers its current turn
// finished. Done distinguishes "I'm done with the whole task" from a
// mid-task pause; Summary is a short human-readable note.
type Completion struct {
	Done    bool
	Summary string
}

// Cost reports token usage for one API round-trip.
type Cost struct {
	InputTokens  int64
	OutputTokens int64
}

// StreamEvent is one line of a running execution's event stream. Exactly
// one of Stdout/Stderr/ToolCall/ToolResult/Completion/Cost/Err is set.
type StreamEvent struct {
	Stdout     string
	Stderr     string
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Completion *Completion
	Cost       *Cost
	Err        error
}

// Execution is a running agent invocation.
type Execution struct {
	ID        string
	Events    <-chan StreamEvent
	Interrupt func() error
	Wait      func() error
}

// Agent is the external coding-agent collaborator. Detect reports
// whether the backend is usable before the first task is scheduled;
// Execute runs one prompt against one working directory and streams
// events back until the returned Execution's Wait unblocks.
type Agent interface {
	Detect(ctx context.Context) (Availability, error)
	Execute(ctx context.Context, req ExecuteRequest) (*Execution, error)
}

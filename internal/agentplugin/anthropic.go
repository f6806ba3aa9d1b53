package agentplugin

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/alphie/internal/api"
)

// AnthropicAgent is the bundled default Agent, backed directly by the
// Anthropic API (no external CLI binary to detect or shell out to).
type AnthropicAgent struct {
	client *api.Client
	notifs *api.NotificationManager
}

// NewAnthropicAgent wraps an already-configured API client. notifs is
// optional; when set, its decisions file is folded into the system
// prompt and its stop signal is checked between API calls, exactly
// as api.ClaudeAPI already does for the teacher's subprocess-compatible
// runner. Its pause signal is not checked.
func NewAnthropicAgent(client *api.Client, notifs *api.NotificationManager) *AnthropicAgent {
	return &AnthropicAgent{client: client, notifs: notifs}
}

// Detect reports the configured model as the backend "version" — there
// is no separate binary to probe since execution goes straight through
// the SDK client.
func (a *AnthropicAgent) Detect(ctx context.Context) (Availability, error) {
	if a.client == nil {
		return Availability{Available: false, Error: "no Anthropic client configured"}, nil
	}
	return Availability{Available: true, Version: string(a.client.Model())}, nil
}

// Execute starts one Anthropic-backed run and adapts api.ClaudeAPI's
// StreamEventCompat channel into the Agent contract's StreamEvent
// stream, translating its terminal "result" event (the model ending its
// turn with StopReasonEndTurn) into a Completion.
func (a *AnthropicAgent) Execute(ctx context.Context, req ExecuteRequest) (*Execution, error) {
	claudeAPI := api.NewClaudeAPI(api.ClaudeAPIConfig{
		Client:        a.client,
		Notifications: a.notifs,
	})

	var opts *api.StartOptionsAPI
	if req.Opts.Model != "" || req.Opts.Temperature != nil {
		opts = &api.StartOptionsAPI{Model: req.Opts.Model, Temperature: req.Opts.Temperature}
	}
	if err := claudeAPI.StartWithOptions(req.Prompt, req.WorkDir, opts); err != nil {
		return nil, fmt.Errorf("agentplugin: start anthropic agent: %w", err)
	}

	events := make(chan StreamEvent, 100)
	go translateEvents(claudeAPI, events)

	return &Execution{
		Events:    events,
		Interrupt: claudeAPI.Kill,
		Wait:      claudeAPI.Wait,
	}, nil
}

func translateEvents(claudeAPI *api.ClaudeAPI, out chan<- StreamEvent) {
	defer close(out)
	for evt := range claudeAPI.Output() {
		out <- convertEvent(evt)
	}
}

func convertEvent(evt api.StreamEventCompat) StreamEvent {
	switch evt.Type {
	case api.StreamEventResult:
		return StreamEvent{Completion: &Completion{Done: true, Summary: evt.Message}}
	case api.StreamEventError:
		return StreamEvent{Err: fmt.Errorf("%s", evt.Error)}
	case api.StreamEventAssistant:
		if evt.ToolAction != "" {
			return StreamEvent{ToolCall: &ToolCall{Name: evt.ToolAction}}
		}
		return StreamEvent{Stdout: evt.Message}
	default:
		return StreamEvent{Stdout: evt.Message}
	}
}

var _ Agent = (*AnthropicAgent)(nil)

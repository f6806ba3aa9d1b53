package agentplugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/alphie/internal/worker"
)

// IterationEngine adapts an Agent into internal/worker.IterationEngine:
// one RunIteration call starts one fresh agent execution, drains its
// event stream, and waits for it to finish.
type IterationEngine struct {
	agent Agent
}

// NewIterationEngine wraps agent for use as a worker.IterationEngine.
func NewIterationEngine(agent Agent) *IterationEngine {
	return &IterationEngine{agent: agent}
}

func (e *IterationEngine) RunIteration(ctx context.Context, req worker.IterationRequest) (worker.IterationOutcome, error) {
	exec, err := e.agent.Execute(ctx, ExecuteRequest{
		Prompt:  buildPrompt(req),
		Files:   req.Task.AffectedFiles(),
		WorkDir: req.WorktreePath,
	})
	if err != nil {
		return worker.IterationOutcome{}, err
	}

	var outcome worker.IterationOutcome
	var streamErr error

	for {
		select {
		case <-ctx.Done():
			if exec.Interrupt != nil {
				_ = exec.Interrupt()
			}
			return worker.IterationOutcome{}, ctx.Err()
		case evt, ok := <-exec.Events:
			if !ok {
				if streamErr != nil {
					return worker.IterationOutcome{}, streamErr
				}
				if err := exec.Wait(); err != nil {
					return worker.IterationOutcome{}, err
				}
				return outcome, nil
			}
			if evt.Err != nil {
				streamErr = evt.Err
			}
			if evt.Completion != nil {
				outcome = worker.IterationOutcome{Completed: evt.Completion.Done, Summary: evt.Completion.Summary}
			}
		}
	}
}

// buildPrompt frames one task iteration for the agent: what the task is,
// which iteration this is, and the expectation that it declare when the
// task is fully done rather than just pausing for this turn.
func buildPrompt(req worker.IterationRequest) string {
	var sb strings.Builder

	sb.WriteString("You are working on a task inside an isolated git worktree.\n\n")
	fmt.Fprintf(&sb, "Task ID: %s\n", req.Task.ID)
	fmt.Fprintf(&sb, "Title: %s\n", req.Task.Title)
	if req.Task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(req.Task.Description)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nThis is iteration %d against this worktree.\n", req.IterationNum)
	sb.WriteString("Make as much progress as you can this turn. When the task is " +
		"completely finished, say so explicitly and summarize what changed; " +
		"otherwise describe what remains so the next iteration can continue.\n")

	return sb.String()
}

var _ worker.IterationEngine = (*IterationEngine)(nil)

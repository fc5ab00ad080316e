package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calderhq/agentloop/pkg/ai"
)

// Runner executes the tool calls of one assistant message against a
// Registry. All calls run in parallel; the returned tool-result messages are
// in the original tool-call order regardless of completion order.
type Runner struct {
	Registry *Registry
	// ValidateArgs validates arguments against the tool schema before
	// execution; failures become error results instead of executor calls.
	ValidateArgs bool
}

// UpdateSink receives transient partial-result payloads from a running tool.
// It may be called from multiple goroutines at once.
type UpdateSink func(call ai.ToolCall, partial Result)

// ExecuteAll runs every call and returns one tool-result message per call,
// index-aligned with calls. A missing tool, invalid arguments, or an executor
// error all synthesize an error result; none of them fail the batch.
//
// If ctx is cancelled before the batch finishes, in-flight executors are
// cancelled with it and any results that still arrive are discarded:
// ExecuteAll returns nil.
func (r *Runner) ExecuteAll(ctx context.Context, calls []ai.ToolCall, onUpdate UpdateSink) []ai.ToolResultMessage {
	if len(calls) == 0 {
		return nil
	}

	results := make([]ai.ToolResultMessage, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ai.ToolCall) {
			defer wg.Done()
			results[i] = r.executeOne(ctx, call, onUpdate)
		}(i, call)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return results
}

// executeOne resolves, validates, and runs a single call.
func (r *Runner) executeOne(ctx context.Context, call ai.ToolCall, onUpdate UpdateSink) ai.ToolResultMessage {
	tool := r.Registry.Get(call.Name)
	if tool == nil {
		return errorResultMessage(call, fmt.Sprintf("tool %q not found", call.Name))
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if r.ValidateArgs {
		coerced, err := ValidateAndCoerce(tool.Definition(), args)
		if err != nil {
			return errorResultMessage(call, err.Error())
		}
		args = coerced
	}

	var updateFn UpdateFn
	if onUpdate != nil {
		updateFn = func(partial Result) { onUpdate(call, partial) }
	}

	res, err := safeExecute(ctx, tool, call.ID, args, updateFn)
	if err != nil {
		return errorResultMessage(call, err.Error())
	}

	content := res.Content
	if len(content) == 0 {
		// The provider rejects content-free tool results.
		content = []ai.ContentBlock{ai.TextContent{Type: "text"}}
	}
	return ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
		Details:    res.Details,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// safeExecute shields the batch from a panicking executor.
func safeExecute(ctx context.Context, tool Tool, callID string, args map[string]any, onUpdate UpdateFn) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, callID, args, onUpdate)
}

func errorResultMessage(call ai.ToolCall, msg string) ai.ToolResultMessage {
	return ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    []ai.ContentBlock{ai.TextContent{Type: "text", Text: msg}},
		IsError:    true,
		Timestamp:  time.Now().UnixMilli(),
	}
}

package tools_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/tools"
)

// fakeTool runs a caller-supplied function.
type fakeTool struct {
	name string
	fn   func(ctx context.Context, callID string, params map[string]any, onUpdate tools.UpdateFn) (tools.Result, error)
}

func (f *fakeTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        f.name,
		Description: "fake " + f.name,
		Parameters:  tools.MustSchema(tools.SimpleSchema{}),
	}
}

func (f *fakeTool) Execute(ctx context.Context, callID string, params map[string]any, onUpdate tools.UpdateFn) (tools.Result, error) {
	return f.fn(ctx, callID, params, onUpdate)
}

func call(id, name string, args map[string]any) ai.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return ai.ToolCall{Type: "tool_call", ID: id, Name: name, Arguments: args}
}

func TestRunner_ResultsInCallOrder(t *testing.T) {
	reg := tools.NewRegistry()
	// slow finishes last even though it is the first call.
	reg.Register(&fakeTool{name: "slow", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		time.Sleep(50 * time.Millisecond)
		return tools.TextResult("slow done"), nil
	}})
	reg.Register(&fakeTool{name: "fast", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		return tools.TextResult("fast done"), nil
	}})

	r := &tools.Runner{Registry: reg}
	results := r.ExecuteAll(context.Background(), []ai.ToolCall{
		call("c1", "slow", nil),
		call("c2", "fast", nil),
	}, nil)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ToolCallID != "c1" || results[1].ToolCallID != "c2" {
		t.Errorf("result order = %q, %q", results[0].ToolCallID, results[1].ToolCallID)
	}
	if results[0].Content[0].(ai.TextContent).Text != "slow done" {
		t.Errorf("results[0] content = %+v", results[0].Content)
	}
}

func TestRunner_CallsRunInParallel(t *testing.T) {
	reg := tools.NewRegistry()
	var mu sync.Mutex
	running := 0
	peak := 0
	reg.Register(&fakeTool{name: "block", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return tools.TextResult("ok"), nil
	}})

	r := &tools.Runner{Registry: reg}
	r.ExecuteAll(context.Background(), []ai.ToolCall{
		call("c1", "block", nil), call("c2", "block", nil), call("c3", "block", nil),
	}, nil)

	if peak < 2 {
		t.Errorf("peak concurrency = %d, want >= 2", peak)
	}
}

func TestRunner_MissingToolSynthesizesError(t *testing.T) {
	r := &tools.Runner{Registry: tools.NewRegistry()}
	results := r.ExecuteAll(context.Background(), []ai.ToolCall{call("c1", "ghost", nil)}, nil)

	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v", results)
	}
	if results[0].ToolCallID != "c1" || results[0].ToolName != "ghost" {
		t.Errorf("result identity = %+v", results[0])
	}
}

func TestRunner_ExecutorErrorSynthesizesError(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "boom", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		return tools.Result{}, errors.New("it broke")
	}})

	r := &tools.Runner{Registry: reg}
	results := r.ExecuteAll(context.Background(), []ai.ToolCall{call("c1", "boom", nil)}, nil)
	if !results[0].IsError {
		t.Fatal("want error result")
	}
	if txt := results[0].Content[0].(ai.TextContent).Text; txt != "it broke" {
		t.Errorf("error text = %q", txt)
	}
}

func TestRunner_PanicSynthesizesError(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "panicky", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		panic("nope")
	}})

	r := &tools.Runner{Registry: reg}
	results := r.ExecuteAll(context.Background(), []ai.ToolCall{call("c1", "panicky", nil)}, nil)
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v", results)
	}
}

func TestRunner_InvalidArgsSynthesizeError(t *testing.T) {
	reg := tools.NewRegistry()
	ft := &fakeTool{name: "typed", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		t.Error("executor must not run on invalid args")
		return tools.Result{}, nil
	}}
	reg.RegisterOrReplace(&schemaTool{ft})

	r := &tools.Runner{Registry: reg, ValidateArgs: true}
	results := r.ExecuteAll(context.Background(), []ai.ToolCall{call("c1", "typed", map[string]any{})}, nil)
	if !results[0].IsError {
		t.Fatal("want error result for missing required arg")
	}
}

// schemaTool wraps fakeTool with a schema that requires a "path" string.
type schemaTool struct{ *fakeTool }

func (s *schemaTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        s.name,
		Description: "typed",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{"path": {Type: "string"}},
			Required:   []string{"path"},
		}),
	}
}

func TestRunner_EmptyContentGetsPlaceholderBlock(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "silent", fn: func(context.Context, string, map[string]any, tools.UpdateFn) (tools.Result, error) {
		return tools.Result{}, nil
	}})

	r := &tools.Runner{Registry: reg}
	results := r.ExecuteAll(context.Background(), []ai.ToolCall{call("c1", "silent", nil)}, nil)
	if len(results[0].Content) != 1 {
		t.Fatalf("content = %+v", results[0].Content)
	}
	if _, ok := results[0].Content[0].(ai.TextContent); !ok {
		t.Errorf("placeholder is %T", results[0].Content[0])
	}
}

func TestRunner_UpdatesReachSink(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "chatty", fn: func(_ context.Context, _ string, _ map[string]any, onUpdate tools.UpdateFn) (tools.Result, error) {
		if onUpdate != nil {
			onUpdate(tools.TextResult("halfway"))
		}
		return tools.TextResult("done"), nil
	}})

	var mu sync.Mutex
	var got []string
	r := &tools.Runner{Registry: reg}
	r.ExecuteAll(context.Background(), []ai.ToolCall{call("c1", "chatty", nil)}, func(c ai.ToolCall, partial tools.Result) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c.ID+":"+partial.Content[0].(ai.TextContent).Text)
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "c1:halfway" {
		t.Errorf("updates = %v", got)
	}
}

func TestRunner_CancelledBatchDiscardsResults(t *testing.T) {
	reg := tools.NewRegistry()
	started := make(chan struct{})
	reg.Register(&fakeTool{name: "wait", fn: func(ctx context.Context, _ string, _ map[string]any, _ tools.UpdateFn) (tools.Result, error) {
		close(started)
		<-ctx.Done()
		return tools.TextResult("late"), nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	r := &tools.Runner{Registry: reg}
	results := r.ExecuteAll(ctx, []ai.ToolCall{call("c1", "wait", nil)}, nil)
	if results != nil {
		t.Errorf("results after cancel = %+v, want nil", results)
	}
}

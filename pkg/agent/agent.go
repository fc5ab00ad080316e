package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/session"
	"github.com/calderhq/agentloop/pkg/tools"
)

// Agent orchestrates the provider + tool loop.
// Subscribing and unsubscribing listeners is safe from multiple goroutines.
// At most one call (Prompt / PromptMessages / Continue) runs at a time; a
// second call while streaming fails with ErrBusy.
type Agent struct {
	mu           sync.RWMutex
	systemPrompt string
	model        string
	provider     ai.Provider
	tools        *tools.Registry
	runner       *tools.Runner

	messages     []ai.Message
	isStreaming  bool
	pendingCalls map[string]bool
	errMsg       string
	runDone      chan struct{}

	thinkingLevel   ai.ThinkingLevel
	thinkingBudgets ai.ThinkingBudgets

	listeners   map[int]func(Event)
	listenerSeq int
	listenerMu  sync.RWMutex

	abortFn context.CancelFunc

	steeringQueue []ai.Message
	steeringMode  QueueMode
	steeringMu    sync.Mutex
	followUpQueue []ai.Message
	followUpMode  QueueMode
	followUpMu    sync.Mutex

	sess   *session.Log
	logger *slog.Logger
}

// Options configures a new Agent.
type Options struct {
	SystemPrompt string
	Model        string
	Provider     ai.Provider
	Tools        *tools.Registry // nil → empty registry

	// Session, when set, receives every lifecycle event except
	// tool_execution_update. Append failures are logged, never fatal.
	Session *session.Log

	// SteeringMode / FollowUpMode control queue dispatch (default: all).
	SteeringMode QueueMode
	FollowUpMode QueueMode

	// ThinkingLevel applied to every call until SetThinkingLevel changes it.
	ThinkingLevel ai.ThinkingLevel
	// ThinkingBudgets supplies per-level token budgets for models without
	// adaptive thinking. Nil levels fall back to defaults derived from the
	// model's max output tokens.
	ThinkingBudgets ai.ThinkingBudgets

	Logger *slog.Logger // nil → discard
}

// New creates a new Agent.
func New(opts Options) *Agent {
	reg := opts.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	steering := opts.SteeringMode
	if steering == "" {
		steering = QueueModeAll
	}
	followUp := opts.FollowUpMode
	if followUp == "" {
		followUp = QueueModeAll
	}
	return &Agent{
		systemPrompt:    opts.SystemPrompt,
		model:           opts.Model,
		provider:        opts.Provider,
		tools:           reg,
		runner:          &tools.Runner{Registry: reg, ValidateArgs: true},
		pendingCalls:    make(map[string]bool),
		listeners:       make(map[int]func(Event)),
		steeringMode:    steering,
		followUpMode:    followUp,
		thinkingLevel:   opts.ThinkingLevel,
		thinkingBudgets: opts.ThinkingBudgets,
		sess:            opts.Session,
		logger:          logger,
	}
}

// ---------------------------------------------------------------------------
// Configuration setters
// ---------------------------------------------------------------------------

func (a *Agent) SetSystemPrompt(s string) {
	a.mu.Lock()
	a.systemPrompt = s
	a.mu.Unlock()
}

func (a *Agent) SetModel(m string) {
	a.mu.Lock()
	a.model = m
	a.mu.Unlock()
}

func (a *Agent) SetProvider(p ai.Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()
}

// SetThinkingLevel changes the reasoning level for subsequent calls.
func (a *Agent) SetThinkingLevel(level ai.ThinkingLevel) {
	a.mu.Lock()
	a.thinkingLevel = level
	a.mu.Unlock()
}

// SetTools replaces the tool registry for subsequent turns.
func (a *Agent) SetTools(reg *tools.Registry) {
	if reg == nil {
		reg = tools.NewRegistry()
	}
	a.mu.Lock()
	a.tools = reg
	a.runner = &tools.Runner{Registry: reg, ValidateArgs: true}
	a.mu.Unlock()
}

func (a *Agent) Tools() *tools.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tools
}

// ---------------------------------------------------------------------------
// Event subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers a listener and returns an unsubscribe function.
// Listeners are invoked synchronously from the loop goroutine, so events for
// one call arrive in a total order.
func (a *Agent) Subscribe(fn func(Event)) func() {
	a.listenerMu.Lock()
	id := a.listenerSeq
	a.listenerSeq++
	a.listeners[id] = fn
	a.listenerMu.Unlock()

	return func() {
		a.listenerMu.Lock()
		delete(a.listeners, id)
		a.listenerMu.Unlock()
	}
}

// Events returns a pull-based view of the event feed: an unbounded buffered
// stream a consumer drains at its own pace without ever blocking the loop,
// plus an unsubscribe function that ends the stream. Cancelling the stream
// drops later pushes silently.
func (a *Agent) Events() (*ai.EventStream[Event], func()) {
	s := ai.NewEventStream[Event]()
	unsub := a.Subscribe(func(e Event) {
		s.Push(e)
	})
	return s, func() {
		unsub()
		s.End()
	}
}

func (a *Agent) broadcast(e Event) {
	a.listenerMu.RLock()
	fns := make([]func(Event), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// ---------------------------------------------------------------------------
// Prompt / Continue / Steer / FollowUp
// ---------------------------------------------------------------------------

// Prompt sends a new user message and runs the loop until it would stop.
// Returns when the loop is complete or ctx is cancelled.
func (a *Agent) Prompt(ctx context.Context, text string, cfg Config) error {
	return a.PromptMessages(ctx, []ai.Message{
		ai.UserMessage{
			Role:      ai.RoleUser,
			Content:   []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
			Timestamp: time.Now().UnixMilli(),
		},
	}, cfg)
}

// PromptMessages sends one or more pre-built messages and runs the loop.
// A prompt whose user messages carry neither non-whitespace text nor images
// fails with ErrEmptyPrompt before any provider call.
func (a *Agent) PromptMessages(ctx context.Context, msgs []ai.Message, cfg Config) error {
	for _, m := range msgs {
		if um, ok := derefMessage(m).(ai.UserMessage); ok && !hasSubstance(um) {
			return ErrEmptyPrompt
		}
	}
	return a.start(ctx, msgs, cfg, false)
}

// Continue resumes the loop from the current tail without new user input.
// It fails with ErrNothingToContinue when there is no history, or when the
// tail is already an assistant message and both queues are empty. With an
// assistant tail and queued steering, the steering queue is drained first so
// interjections take precedence over a fresh model turn.
func (a *Agent) Continue(ctx context.Context, cfg Config) error {
	msgs := a.snapshotMessages()
	if len(msgs) == 0 {
		return ErrNothingToContinue
	}
	drainFirst := false
	if msgs[len(msgs)-1].GetRole() == ai.RoleAssistant {
		if a.queuedSteering() == 0 && a.queuedFollowUp() == 0 {
			return ErrNothingToContinue
		}
		drainFirst = true
	}
	return a.start(ctx, nil, cfg, drainFirst)
}

func (a *Agent) start(ctx context.Context, msgs []ai.Message, cfg Config, drainSteeringFirst bool) error {
	loopCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	if a.isStreaming {
		a.mu.Unlock()
		cancel()
		return ErrBusy
	}
	a.abortFn = cancel
	a.isStreaming = true
	a.errMsg = ""
	a.runDone = make(chan struct{})
	done := a.runDone
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.isStreaming = false
		a.abortFn = nil
		a.mu.Unlock()
		cancel()
		close(done)
	}()

	return a.runLoop(loopCtx, msgs, cfg, drainSteeringFirst)
}

// Steer queues a message to be picked up at the next polling point while a
// call is in flight.
func (a *Agent) Steer(m ai.Message) {
	a.steeringMu.Lock()
	a.steeringQueue = append(a.steeringQueue, derefMessage(m))
	a.steeringMu.Unlock()
}

// SteerText queues a plain-text steering message.
func (a *Agent) SteerText(text string) {
	a.Steer(userText(text))
}

// FollowUp queues a message processed only after the steering queue drains
// and the loop would otherwise stop.
func (a *Agent) FollowUp(m ai.Message) {
	a.followUpMu.Lock()
	a.followUpQueue = append(a.followUpQueue, derefMessage(m))
	a.followUpMu.Unlock()
}

// FollowUpText queues a plain-text follow-up message.
func (a *Agent) FollowUpText(text string) {
	a.FollowUp(userText(text))
}

// Abort cancels the running call: the provider stream and all in-flight
// tool executions share the cancelled context. The loop still finalizes and
// emits agent_end. Calling it repeatedly, concurrently, or while idle is
// safe: a CancelFunc is idempotent, and a finished run's cancel is a no-op.
func (a *Agent) Abort() {
	a.mu.RLock()
	fn := a.abortFn
	a.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// WaitForIdle blocks until the current call (if any) has finished.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	a.mu.RLock()
	streaming := a.isStreaming
	done := a.runDone
	a.mu.RUnlock()
	if !streaming || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// State accessors and history mutation
// ---------------------------------------------------------------------------

func (a *Agent) IsStreaming() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isStreaming
}

func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	msgs := make([]ai.Message, len(a.messages))
	copy(msgs, a.messages)
	pending := make(map[string]bool, len(a.pendingCalls))
	for k, v := range a.pendingCalls {
		pending[k] = v
	}
	providerName := ""
	if a.provider != nil {
		providerName = a.provider.Name()
	}
	return State{
		SystemPrompt:     a.systemPrompt,
		Model:            a.model,
		Provider:         providerName,
		Messages:         msgs,
		IsStreaming:      a.isStreaming,
		PendingToolCalls: pending,
		Error:            a.errMsg,
		ContextTokens:    EstimateContextTokens(msgs).Tokens,
	}
}

// Messages returns a snapshot of the full conversation history.
func (a *Agent) Messages() []ai.Message {
	return a.snapshotMessages()
}

// ReplaceMessages swaps the conversation history wholesale.
func (a *Agent) ReplaceMessages(msgs []ai.Message) {
	out := make([]ai.Message, len(msgs))
	for i, m := range msgs {
		out[i] = derefMessage(m)
	}
	a.mu.Lock()
	a.messages = out
	a.mu.Unlock()
}

// AppendMessage appends a message to the history without running the loop.
func (a *Agent) AppendMessage(m ai.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, derefMessage(m))
	a.mu.Unlock()
}

// ClearMessages resets the conversation history.
func (a *Agent) ClearMessages() {
	a.mu.Lock()
	a.messages = nil
	a.mu.Unlock()
}

// Reset clears history, queues, and the recorded error. It does not touch a
// running call; callers should Abort and WaitForIdle first.
func (a *Agent) Reset() {
	a.steeringMu.Lock()
	a.steeringQueue = nil
	a.steeringMu.Unlock()
	a.followUpMu.Lock()
	a.followUpQueue = nil
	a.followUpMu.Unlock()
	a.mu.Lock()
	a.messages = nil
	a.errMsg = ""
	a.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (a *Agent) snapshotMessages() []ai.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ai.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Agent) queuedSteering() int {
	a.steeringMu.Lock()
	defer a.steeringMu.Unlock()
	return len(a.steeringQueue)
}

func (a *Agent) queuedFollowUp() int {
	a.followUpMu.Lock()
	defer a.followUpMu.Unlock()
	return len(a.followUpQueue)
}

// popSteering takes messages off the steering queue per the configured mode.
func (a *Agent) popSteering() []ai.Message {
	a.steeringMu.Lock()
	defer a.steeringMu.Unlock()
	return popQueue(&a.steeringQueue, a.steeringMode)
}

func (a *Agent) popFollowUp() []ai.Message {
	a.followUpMu.Lock()
	defer a.followUpMu.Unlock()
	return popQueue(&a.followUpQueue, a.followUpMode)
}

func popQueue(q *[]ai.Message, mode QueueMode) []ai.Message {
	if len(*q) == 0 {
		return nil
	}
	if mode == QueueModeOne {
		first := (*q)[0]
		*q = (*q)[1:]
		return []ai.Message{first}
	}
	out := *q
	*q = nil
	return out
}

func userText(text string) ai.UserMessage {
	return ai.UserMessage{
		Role:      ai.RoleUser,
		Content:   []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
		Timestamp: time.Now().UnixMilli(),
	}
}

// hasSubstance reports whether a user message carries non-whitespace text or
// at least one image.
func hasSubstance(m ai.UserMessage) bool {
	for _, b := range m.Content {
		switch blk := b.(type) {
		case ai.TextContent:
			if strings.TrimSpace(blk.Text) != "" {
				return true
			}
		case ai.ImageContent:
			return true
		}
	}
	return false
}

// derefMessage unwraps pointer message types to their value form so stored
// history uses value types throughout.
func derefMessage(m ai.Message) ai.Message {
	switch p := m.(type) {
	case *ai.UserMessage:
		return *p
	case *ai.AssistantMessage:
		return *p
	case *ai.ToolResultMessage:
		return *p
	}
	return m
}

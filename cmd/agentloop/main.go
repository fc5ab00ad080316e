// Binary agentloop is an interactive conversational agent with streaming
// output, parallel tool execution, and persistent session logs.
//
// Usage:
//
//	agentloop [flags]
//
// Flags:
//
//	-config   path to YAML config file (default: agentloop.yaml)
//	-prompt   one-shot prompt (skips interactive mode)
//	-session  session ID to resume (prefix match)
//	-sessions list recent sessions and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/calderhq/agentloop/pkg/agent"
	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/ai/models"
	"github.com/calderhq/agentloop/pkg/ai/providers/anthropic"
	"github.com/calderhq/agentloop/pkg/ai/providers/bedrock"
	"github.com/calderhq/agentloop/pkg/session"
	"github.com/calderhq/agentloop/pkg/tools"
	"github.com/calderhq/agentloop/pkg/tools/builtin"
)

func main() {
	configPath := flag.String("config", "agentloop.yaml", "path to config file")
	oneShot := flag.String("prompt", "", "one-shot prompt (non-interactive)")
	sessionFlag := flag.String("session", "", "session ID to resume (prefix match)")
	listSessions := flag.Bool("sessions", false, "list recent sessions and exit")
	flag.Parse()

	cfg, err := agent.LoadFileConfig(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	sessDir := cfg.SessionsDir
	if sessDir == "" {
		sessDir = session.DefaultSessionsDir()
	}

	if *listSessions {
		infos, err := session.List(sessDir)
		if err != nil {
			fatalf("sessions: %v", err)
		}
		if len(infos) == 0 {
			fmt.Println("[no sessions]")
			return
		}
		for _, info := range infos {
			status := "open"
			if info.Completed {
				status = "done"
			}
			fmt.Printf("%s  %-5s  events=%-4d  %s  %s\n",
				info.ID[:8], status, info.EventCount,
				info.Created.Format("2006-01-02 15:04"),
				truncate(info.FirstMessage, 50),
			)
		}
		return
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		fatalf("provider: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fatalf("getwd: %v", err)
	}

	// Tool registry: built-in fetch plus external plugins.
	registry := tools.NewRegistry()
	if cfg.FetchEnabled() {
		registry.Register(builtin.NewFetchTool())
	}
	var pluginTools []tools.Tool
	for _, pc := range cfg.Tools.Plugins {
		pt, err := tools.LoadPlugin(pc.Path, pc.Args...)
		if err != nil {
			fatalf("plugin %s: %v", pc.Path, err)
		}
		registry.Register(pt)
		pluginTools = append(pluginTools, pt)
		fmt.Printf("[agentloop] loaded plugin: %s\n", pt.Definition().Name)
	}
	defer func() {
		for _, pt := range pluginTools {
			tools.ClosePlugin(pt)
		}
	}()

	// Session persistence: resume by prefix or start a new log.
	var sess *session.Log
	var resumeMessages []ai.Message
	if *sessionFlag != "" {
		sess, err = session.Open(sessDir, *sessionFlag)
		if err != nil {
			fatalf("session resume: %v", err)
		}
		resumeMessages, err = sess.Reconstruct()
		if err != nil {
			fatalf("session replay: %v", err)
		}
		fmt.Printf("[agentloop] resumed session %s (%d messages)\n", sess.ID()[:8], len(resumeMessages))
	} else {
		sess, err = session.Create(sessDir, cwd)
		if err != nil {
			// Non-fatal: the agent works without persistence.
			fmt.Fprintf(os.Stderr, "[warn] could not create session: %v\n", err)
			sess = nil
		} else {
			fmt.Printf("[agentloop] session %s\n", sess.ID()[:8])
		}
	}
	if sess != nil {
		defer sess.Close()
	}

	ag := agent.New(agent.Options{
		SystemPrompt:  cfg.SystemPrompt,
		Model:         cfg.Model,
		Provider:      provider,
		Tools:         registry,
		Session:       sess,
		SteeringMode:  agent.QueueMode(cfg.SteeringMode),
		FollowUpMode:  agent.QueueMode(cfg.FollowUpMode),
		ThinkingLevel: ai.ThinkingLevel(cfg.ThinkingLevel),
		ThinkingBudgets: ai.ThinkingBudgets{
			Minimal: cfg.ThinkingBudgets.Minimal,
			Low:     cfg.ThinkingBudgets.Low,
			Medium:  cfg.ThinkingBudgets.Medium,
			High:    cfg.ThinkingBudgets.High,
			XHigh:   cfg.ThinkingBudgets.XHigh,
		},
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if len(resumeMessages) > 0 {
		ag.ReplaceMessages(resumeMessages)
	}

	unsub := ag.Subscribe(makeEventPrinter())
	defer unsub()

	callCfg := agent.Config{
		StreamOptions: ai.StreamOptions{
			APIKey:         cfg.APIKey,
			MaxTokens:      cfg.MaxTokens,
			Temperature:    cfg.Temperature,
			CacheRetention: ai.CacheRetention(cfg.CacheRetention),
		},
	}

	// First SIGINT aborts the in-flight call; a second one exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ag.Abort()
		<-sigCh
		os.Exit(1)
	}()

	if *oneShot != "" {
		if err := ag.Prompt(context.Background(), *oneShot, callCfg); err != nil {
			fatalf("prompt: %v", err)
		}
		return
	}

	fmt.Printf("[agentloop] provider=%s model=%s tools=%v\n",
		provider.Name(), cfg.Model, registry.Names())
	fmt.Println("[agentloop] type a prompt and press enter. Commands: /clear /state /model /session /sessions exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			return
		case "/clear":
			ag.ClearMessages()
			fmt.Println("[cleared]")
			continue
		case "/state":
			s := ag.State()
			fmt.Printf("[state] messages=%d context_tokens=%d streaming=%v error=%q\n",
				len(s.Messages), s.ContextTokens, s.IsStreaming, s.Error)
			continue
		case "/model":
			info := models.Lookup(cfg.Model)
			if info == nil {
				fmt.Printf("[model] %s (not in registry)\n", cfg.Model)
			} else {
				fmt.Printf("[model] %s — context=%d out=%d vision=%v thinking=%v in=$%.2f/1M out=$%.2f/1M\n",
					info.DisplayName, info.ContextWindow, info.MaxOutputTokens,
					info.SupportsVision, info.SupportsThinking,
					info.InputCostPer1M, info.OutputCostPer1M,
				)
			}
			continue
		case "/session":
			if sess != nil {
				fmt.Printf("[session] id=%s  cwd=%s\n", sess.ID(), sess.CWD())
			} else {
				fmt.Println("[session] none (persistence disabled)")
			}
			continue
		case "/sessions":
			infos, err := session.List(sessDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sessions: %v\n", err)
				continue
			}
			for i, info := range infos {
				if i >= 10 {
					fmt.Printf("  ... (%d more)\n", len(infos)-10)
					break
				}
				fmt.Printf("  %s  events=%-4d  %s  %s\n",
					info.ID[:8], info.EventCount,
					info.Created.Format("01-02 15:04"),
					truncate(info.FirstMessage, 40),
				)
			}
			continue
		}

		if err := ag.Prompt(context.Background(), line, callCfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func buildProvider(cfg *agent.FileConfig) (ai.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.BaseURL), nil
	case "bedrock":
		return bedrock.New(cfg.Region, cfg.Profile), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// makeEventPrinter renders the event stream as terminal output: text deltas
// inline, tool lifecycle on their own lines, cost after each turn.
func makeEventPrinter() func(agent.Event) {
	return func(ev agent.Event) {
		switch ev.Type {
		case agent.EventMessageUpdate:
			if ev.StreamEvent != nil && ev.StreamEvent.Type == ai.StreamEventTextDelta {
				fmt.Print(ev.StreamEvent.Delta)
			}
		case agent.EventMessageEnd:
			if ev.Message != nil && ev.Message.GetRole() == ai.RoleAssistant {
				fmt.Println()
				if am, ok := ev.Message.(ai.AssistantMessage); ok && am.Usage.Cost.Total > 0 {
					fmt.Printf("[cost] $%.6f\n", am.Usage.Cost.Total)
				}
			}
		case agent.EventToolExecutionStart:
			fmt.Printf("\n[tool] %s(%s)\n", ev.ToolName, formatArgs(ev.ToolArgs))
		case agent.EventToolExecutionEnd:
			status := "ok"
			if ev.IsError {
				status = "error"
			}
			fmt.Printf("[tool] %s → %s\n", ev.ToolName, status)
		}
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		s := fmt.Sprintf("%v", v)
		if len(s) > 60 {
			s = s[:57] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, s))
	}
	return strings.Join(parts, ", ")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Command execution for CLI commands.
//
// Information Hiding:
// - Service wiring (provider, engine, store, tools) hidden
// - Output formatting hidden
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/laundryguy77/PeanutChat-sub000/compaction"
	"github.com/laundryguy77/PeanutChat-sub000/config"
	"github.com/laundryguy77/PeanutChat-sub000/internal/logging"
	"github.com/laundryguy77/PeanutChat-sub000/ledger"
	"github.com/laundryguy77/PeanutChat-sub000/llm"
	"github.com/laundryguy77/PeanutChat-sub000/server"
	"github.com/laundryguy77/PeanutChat-sub000/tools"
	"github.com/laundryguy77/PeanutChat-sub000/turn"
)

// Options holds CLI execution options.
type Options struct {
	Provider string
	Verbose  bool
}

// service bundles everything a command needs to run turns.
type service struct {
	orchestrator *turn.Orchestrator
	store        ledger.Store
	settings     config.Settings
	log          *zap.Logger
}

func (s *service) close() {
	if closer, ok := s.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = s.log.Sync()
}

// buildService wires the full stack from settings and environment.
func buildService(opts Options) (*service, error) {
	log, err := logging.New(opts.Verbose)
	if err != nil {
		return nil, err
	}

	settings, err := config.New(opts.Provider)
	if err != nil {
		return nil, err
	}

	provider, err := createProvider(settings)
	if err != nil {
		return nil, err
	}

	store, err := createStore(settings.Storage)
	if err != nil {
		return nil, err
	}

	budgets, err := compaction.ComputeBudgets(settings.LLM.NumCtx, settings.Compaction.BufferPercent, settings.Compaction.ThresholdPercent)
	if err != nil {
		return nil, err
	}

	estimator := compaction.Estimator{}
	summarizer := compaction.NewSummarizer(provider, settings.LLM.Model, estimator, log)
	engine := compaction.NewEngine(compaction.SelectorConfig{
		Enabled:           settings.Compaction.Enabled,
		ProtectedMessages: settings.Compaction.ProtectedMessages,
		Budgets:           budgets,
		Estimator:         estimator,
	}, summarizer, store, log)

	registry, err := tools.WithDefaults()
	if err != nil {
		return nil, err
	}
	executor := tools.NewDefaultExecutor()

	orchestrator := turn.NewOrchestrator(provider, engine, store, registry, executor, turn.Config{
		SystemPrompt:          settings.Turn.SystemPrompt,
		ThinkingEnabled:       settings.Turn.ThinkingEnabled,
		ThinkingLimitInitial:  settings.Turn.ThinkingLimitInitial,
		ThinkingLimitFollowup: settings.Turn.ThinkingLimitFollowup,
	}, log)

	return &service{
		orchestrator: orchestrator,
		store:        store,
		settings:     settings,
		log:          log,
	}, nil
}

func createProvider(settings config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}
	return providerType.
		Model(settings.LLM.Model).
		MaxTokens(uint32(settings.LLM.MaxTokens)).
		Temperature(settings.LLM.Temperature).
		FromEnv()
}

func createStore(cfg config.StorageConfig) (ledger.Store, error) {
	if cfg.Path == "" {
		return ledger.NewMemoryStore(), nil
	}
	return ledger.OpenSqlite(cfg.Path)
}

// Serve runs the HTTP server until interrupted.
func Serve(ctx context.Context, opts Options) error {
	svc, err := buildService(opts)
	if err != nil {
		return err
	}
	defer svc.close()

	srv := server.New(svc.orchestrator, svc.store, svc.log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(svc.settings.Server.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

// Chat starts an interactive chat session on stdin/stdout.
func Chat(ctx context.Context, conversationID string, opts Options) error {
	svc, err := buildService(opts)
	if err != nil {
		return err
	}
	defer svc.close()

	fmt.Printf("Chat session started (%s). Type 'exit' or 'quit' to end.\n\n", svc.settings.LLM.Provider)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		err := svc.orchestrator.Run(ctx, turn.Request{
			OwnerID:        "local",
			ConversationID: conversationID,
			Content:        input,
		}, consoleEmitter(&conversationID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			continue
		}
		fmt.Println()
	}
	return scanner.Err()
}

// consoleEmitter renders turn events for a terminal. It captures the
// conversation id so later turns continue the same conversation.
func consoleEmitter(conversationID *string) turn.Emitter {
	thinking := false
	return turn.EmitterFunc(func(event turn.Event) error {
		switch event.Type {
		case turn.EventConversation:
			*conversationID = event.ConversationID
		case turn.EventToken:
			switch {
			case event.Thinking != "":
				if !thinking {
					thinking = true
					fmt.Print("[thinking] ")
				}
				fmt.Print(event.Thinking)
			case event.ThinkingDone:
				if thinking {
					thinking = false
					fmt.Println()
				}
			case event.Content != "":
				fmt.Print(event.Content)
			}
		case turn.EventToolCall:
			fmt.Printf("\n[tool: %s]\n", event.ToolName)
		case turn.EventToolResult:
			if event.ToolError != "" {
				fmt.Printf("[tool %s failed: %s]\n", event.ToolName, event.ToolError)
			}
		case turn.EventError:
			fmt.Fprintf(os.Stderr, "\nError: %s\n", event.Message)
		}
		return nil
	})
}

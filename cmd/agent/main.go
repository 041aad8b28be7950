package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"clara-ai/internal/adapter/catalog"
	"clara-ai/internal/adapter/client"
	"clara-ai/internal/adapter/llm"
	"clara-ai/internal/adapter/tool"
	"clara-ai/internal/domain"
	"clara-ai/internal/infra/config"
	"clara-ai/internal/infra/logger"
	"clara-ai/internal/infra/middleware"
	"clara-ai/internal/infra/tracer"
	"clara-ai/internal/usecase"
	"clara-ai/internal/usecase/capability"
	"clara-ai/internal/usecase/dispatch"
	"clara-ai/internal/usecase/eventbus"
	"clara-ai/internal/usecase/handoff"
	"clara-ai/internal/usecase/intent"
	"clara-ai/internal/usecase/reminder"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "encrypt":
			if err := runEncrypt(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`clara-ai - Conversational assistant orchestration core

USAGE:
    clara-ai [FLAGS]            Run the agent
    clara-ai encrypt [VALUE]    Encrypt a config secret (reads stdin if no value)

FLAGS:
    -config PATH    Config file (default: $CLARA_CONFIG or built-in defaults)

ENVIRONMENT:
    CLARA_CONFIG        Config file path
    CLARA_CONFIG_KEY    Passphrase for "enc:" config values
    CLARA_SERVER_ADDR   Override server.addr
    CLARA_SERVER_TOKEN  Override server.token
    CLARA_USER_NAME     Override agent.user_name
    CLARA_LOG_LEVEL     Override logger.level
    CLARA_LLM_API_KEY   Override llm.api_key`)
}

// runEncrypt produces an "enc:" value for the config file from a plaintext
// secret and CLARA_CONFIG_KEY.
func runEncrypt(args []string) error {
	passphrase := os.Getenv("CLARA_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("CLARA_CONFIG_KEY not set")
	}

	var plaintext string
	if len(args) > 0 {
		plaintext = args[0]
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("no input: %w", scanner.Err())
		}
		plaintext = strings.TrimSpace(scanner.Text())
	}
	if plaintext == "" {
		return fmt.Errorf("empty secret")
	}

	enc, err := config.EncryptValue(plaintext, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}

func run() error {
	// 1. Config
	cfgPath := flag.String("config", os.Getenv("CLARA_CONFIG"), "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Capability catalog, classifier, assembler
	cat := catalog.New(cfg.Agent.CapabilityDir, log)
	classifier := intent.NewClassifier(log)
	assembler := capability.NewAssembler(cat, cfg.Agent.InstructionWarnTokens, log)

	// 5. Instruction updater and optional intent refiner
	var updater domain.InstructionUpdater
	var chat domain.ChatFunc
	if cfg.LLM.BaseURL != "" {
		bridge := llm.NewBridge(cfg.LLM, log)
		updater = bridge
		chat = bridge.Chat
	} else {
		log.Warn("llm.base_url not set, instruction updates are log-only")
		updater = llm.NewLogUpdater(log)
	}

	var assistantOpts []usecase.AssistantOption
	if cfg.Agent.UserName != "" {
		assistantOpts = append(assistantOpts, usecase.WithUserName(cfg.Agent.UserName))
	}
	if cfg.Agent.MirrorConversation {
		assistantOpts = append(assistantOpts, usecase.WithConversationMirroring())
	}
	if cfg.LLM.RefineEnabled && chat != nil {
		refiner := intent.NewRefiner(chat, cfg.LLM.RefineThreshold, log)
		assistantOpts = append(assistantOpts, usecase.WithRefiner(refiner))
	}

	// 6. Specialists
	registry := handoff.NewRegistry(log)
	specialists := cfg.Specialists
	if len(specialists) == 0 {
		specialists = defaultSpecialists()
	}
	for _, sp := range specialists {
		registry.Register(sp)
	}

	// 7. Client tool schemas
	toolReg := tool.NewRegistry(log)
	tool.RegisterDefaults(toolReg)

	// 8. Sessions and assistant
	sessions := usecase.NewSessionManager(registry, bus, log,
		dispatch.WithTimeout(cfg.Dispatch.Timeout))
	assistant := usecase.NewAssistant(classifier, assembler, updater, bus, log, assistantOpts...)

	// 9. Reminder store shared across sessions, fed by confirmed client results
	store := reminder.NewMemoryStore()
	trk := reminder.NewTracker(store, log)

	// 10. Client server
	srv := client.NewServer(sessions, assistant, cfg.Server.Addr, cfg.Server.Token, log)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMin: cfg.Server.RequestsPerMin,
		BurstSize:      cfg.Server.BurstSize,
	}, log)
	srv.Use(limiter.Wrap)
	srv.OnToolResult(func(ctx context.Context, sess *usecase.Session, toolName string, args, result json.RawMessage) {
		trk.Record(ctx, sess.ID, toolName, args, result)
	})
	srv.OnSession(func(sess *usecase.Session) {
		toolReg.InstallSchemas(sess.Dispatcher)
		if !cfg.Reminders.Enabled {
			return
		}
		mon := reminder.NewMonitor(store, sess.Channel, bus, log,
			reminder.WithCheckSpec(cfg.Reminders.CheckSpec),
			reminder.WithSession(sess.ID))
		if err := mon.Start(ctx); err != nil {
			log.Warn("reminder monitor failed to start", "session_id", sess.ID, "error", err)
			return
		}
		var unsub func()
		unsub = bus.Subscribe(domain.EventSessionClosed, func(_ context.Context, ev domain.Event) {
			if ev.SessionID != sess.ID {
				return
			}
			mon.Stop()
			unsub()
		})
	})

	log.Info("clara-ai starting", "addr", cfg.Server.Addr, "specialists", len(specialists))
	return srv.Start(ctx)
}

// defaultSpecialists covers the common companion-app flows when the config
// does not declare any.
func defaultSpecialists() []domain.SpecialistProfile {
	return []domain.SpecialistProfile{
		{
			Name:         "task_manager",
			Description:  "guides the user through multi-step forms and scheduled tasks",
			Capabilities: []string{"forms"},
			Tools:        []string{"form_fill", "form_submit", "reminder_add", "reminder_complete"},
		},
		{
			Name:         "navigator",
			Description:  "walks the user through the companion app screens",
			Capabilities: []string{"navigation"},
			Tools:        []string{"navigate_to", "go_back"},
		},
	}
}

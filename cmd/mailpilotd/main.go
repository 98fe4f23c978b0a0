package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/mailpilot/internal/build"
	"github.com/roasbeef/mailpilot/internal/db"
	"github.com/roasbeef/mailpilot/internal/ingest"
	"github.com/roasbeef/mailpilot/internal/intel"
	"github.com/roasbeef/mailpilot/internal/mailer"
	"github.com/roasbeef/mailpilot/internal/mcp"
	"github.com/roasbeef/mailpilot/internal/orchestrator"
	"github.com/roasbeef/mailpilot/internal/queue"
	"github.com/roasbeef/mailpilot/internal/review"
	"github.com/roasbeef/mailpilot/internal/sender"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/roasbeef/mailpilot/internal/thread"
)

func main() {
	var (
		dbPath = flag.String("db", "~/.mailpilot/mailpilot.db",
			"Path to SQLite database")
		redisAddr = flag.String("redis", "localhost:6379",
			"Redis server address")
		stream = flag.String("stream", "mailpilot:inbound",
			"Redis stream carrying inbound emails")
		group = flag.String("group", "mailpilot",
			"Redis consumer group name")
		consumer = flag.String("consumer", "mailpilotd",
			"Consumer name within the group")
		providerURL = flag.String("provider", "http://localhost:8900",
			"Base URL of the decision/draft provider")
		model = flag.String("model", "",
			"Model name recorded on drafts")
		smtpAddr = flag.String("smtp", "localhost:587",
			"SMTP relay address")
		smtpUser = flag.String("smtp-user", "",
			"SMTP username (empty disables auth)")
		smtpPass = flag.String("smtp-pass", "",
			"SMTP password")
		fromAddr = flag.String("from", "",
			"Address replies are sent from (required)")
		reviewAddr = flag.String("review", ":8380",
			"Review API address (empty to disable)")
		mcpStdio = flag.Bool("mcp", false,
			"Serve MCP review tools on stdio")
		decisionThreshold = flag.Float64("decision-threshold",
			orchestrator.DefaultDecisionThreshold,
			"Minimum classification confidence for auto-approval")
		draftThreshold = flag.Float64("draft-threshold",
			orchestrator.DefaultDraftThreshold,
			"Minimum draft confidence for auto-approval")
		maxAttempts = flag.Int64("max-send-attempts", 0,
			"Failed sends before a draft is abandoned (0 = retry forever)")
		logLevel = flag.String("loglevel", "info", "Log level")
		logFile  = flag.String("logfile", "", "Optional log file path")
	)
	flag.Parse()

	if *fromAddr == "" {
		log.Fatal("-from is required")
	}

	logs, err := build.NewSubLoggerSet(build.LogConfig{
		Level: *logLevel,
		File:  *logFile,
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	// Expand home directory.
	path := *dbPath
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		path = home + path[1:]
	}

	dbStore, err := db.Open(path, logs.Logger(build.SubDB))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer dbStore.Close()

	storage := store.NewSQLStore(dbStore)

	// Set up signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	// Ingestion: queue -> event store.
	source, err := queue.NewRedisSource(ctx, queue.RedisConfig{
		Addr:     *redisAddr,
		Stream:   *stream,
		Group:    *group,
		Consumer: *consumer,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer source.Close()

	ingestLog := logs.Logger(build.SubIngest)
	worker := ingest.NewWorker(
		source, storage, thread.NewResolver(storage), ingestLog,
	)
	go func() {
		if err := worker.Run(ctx); err != nil {
			ingestLog.Error("Ingestion worker exited", "err", err)
			cancel()
		}
	}()

	// Decision pipeline: events -> decisions -> drafts.
	provider := intel.NewHTTPClient(*providerURL)

	pipelineCfg := orchestrator.DefaultConfig()
	pipelineCfg.DecisionThreshold = *decisionThreshold
	pipelineCfg.DraftThreshold = *draftThreshold
	pipelineCfg.Model = *model

	pipeline := orchestrator.NewPipeline(
		pipelineCfg, storage, provider, provider,
		logs.Logger(build.SubOrchestrator),
	)
	go func() {
		_ = pipeline.Run(ctx)
	}()

	// Sender: approved drafts -> SMTP.
	senderCfg := sender.DefaultConfig(*fromAddr)
	senderCfg.MaxSendAttempts = *maxAttempts

	sendLoop := sender.NewLoop(
		senderCfg, storage, mailer.NewSMTPMailer(mailer.SMTPConfig{
			Addr:     *smtpAddr,
			Username: *smtpUser,
			Password: *smtpPass,
		}), logs.Logger(build.SubSender),
	)
	go func() {
		_ = sendLoop.Run(ctx)
	}()

	// Review API.
	if *reviewAddr != "" {
		reviewCfg := review.DefaultConfig()
		reviewCfg.Addr = *reviewAddr

		reviewServer := review.NewServer(
			reviewCfg, storage, logs.Logger(build.SubReview),
		)
		go func() {
			if err := reviewServer.Start(); err != nil {
				log.Printf("Review server error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = reviewServer.Shutdown(context.Background())
		}()
	}

	// Run the MCP server on stdio transport when requested, otherwise
	// block until a signal arrives.
	if *mcpStdio {
		log.Println("Starting MCP server on stdio...")
		mcpServer := mcp.NewServer(storage)
		if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil {
			log.Fatalf("MCP server error: %v", err)
		}
	} else {
		<-ctx.Done()
	}
}

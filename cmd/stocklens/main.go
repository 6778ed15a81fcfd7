package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/AhmedIkram05/StockLens-sub000/internal/events"
	"github.com/AhmedIkram05/StockLens-sub000/internal/marketdata"
	"github.com/AhmedIkram05/StockLens-sub000/internal/receipt"
	"github.com/AhmedIkram05/StockLens-sub000/internal/scanning"
	"github.com/AhmedIkram05/StockLens-sub000/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("stocklens")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "stocklens.db", "Receipt database file path")
		cachePath   = fs.StringLong("cache-db", "stocklens-cache.db", "Price series cache file path")
		storagePath = fs.StringLong("storage", "./receipts", "Photo storage directory path")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		eodhdURL    = fs.StringLong("eodhd-url", "https://eodhd.com", "EODHD API base URL")
		eodhdKey    = fs.StringLong("eodhd-key", "demo", "EODHD API token")
		pruneDays   = fs.IntLong("prune-days", 180, "Remove cached price series older than this many days at startup")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("STOCKLENS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize receipt database
	slog.Info("Initializing receipt database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize price series cache
	slog.Info("Initializing price cache...")
	cache, err := marketdata.NewBoltCache(*cachePath)
	if err != nil {
		slog.Error("Failed to initialize price cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	// Initialize recognizer
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
	recognizer, err := scanning.NewGemini(apiKey, *geminiModel)
	if err != nil {
		slog.Error("Failed to initialize Gemini", "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Wire the capture workflow and the projection service
	bus := events.NewBus()
	workflow := receipt.NewWorkflow(db, store, recognizer, bus)

	fetcher := marketdata.NewEODHDClient(*eodhdURL, *eodhdKey)
	projections := marketdata.NewService(cache, fetcher)

	// Best-effort startup maintenance: stale cache entries are pruned and the
	// preset tickers are warmed in the background.
	projections.PruneCache(*pruneDays)
	projections.EnsurePrefetch(context.Background())

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(workflow, projections, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

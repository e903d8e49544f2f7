package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OxyHQ/mention-sync/internal/client"
	"github.com/OxyHQ/mention-sync/internal/config"
	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/ops"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	// Define subcommands
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mention-sync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("mention-sync - realtime feed synchronization engine")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  mention-sync init              Generate example configuration")
		fmt.Println("  mention-sync --version         Show version information")
		fmt.Println("  mention-sync --config <path>   Start with configuration file")
		os.Exit(1)
	}

	// Load and validate configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Session.UserID == "" || cfg.Session.Token == "" {
		fmt.Fprintln(os.Stderr, "Error: session user and token are required (session.user_id plus MENTION_TOKEN)")
		os.Exit(1)
	}

	fmt.Printf("Starting mention-sync %s\n", version)
	fmt.Printf("  API:    %s\n", cfg.API.BaseURL)
	fmt.Printf("  Socket: %s\n", cfg.Socket.URL)
	fmt.Printf("  User:   %s\n", cfg.Session.UserID)
	fmt.Println()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	start := time.Now()

	c := client.New(cfg, client.WithLogger(logger))
	defer c.Close()

	logger.LogStartup(version, commit, map[string]interface{}{
		"feeds":     cfg.Feeds.Join,
		"page_size": cfg.Feeds.PageSize,
	})

	if err := c.Connect(ctx, cfg.Session.UserID, cfg.Session.Token); err != nil {
		return fmt.Errorf("connecting push channel: %w", err)
	}

	// Tail every committed slice transition to the log.
	unwatch := c.WatchSlices(func(ev feed.Event) {
		logger.Debug("slice changed",
			"slice", ev.Key.String(),
			"reason", string(ev.Reason),
			"items", ev.Count)
	})
	defer unwatch()

	for _, kind := range cfg.Feeds.Join {
		key := feed.SliceKey{Kind: feed.Kind(kind)}
		c.JoinFeed(key)
		if err := c.FetchFeed(ctx, key, nil); err != nil {
			logger.Warn("initial fetch failed", "feed", kind, "error", err)
		}
	}

	// SIGUSR1 dumps a diagnostics snapshot without stopping.
	diag := make(chan os.Signal, 1)
	signal.Notify(diag, syscall.SIGUSR1)
	defer signal.Stop(diag)

	for {
		select {
		case <-diag:
			printDiagnostics(c, start)
		case <-ctx.Done():
			logger.LogShutdown("signal received")
			c.Disconnect()
			return nil
		}
	}
}

func printDiagnostics(c *client.Client, start time.Time) {
	d := c.Diagnostics()
	sys := ops.CollectSystemStats(version, commit, start)

	fmt.Println("mention-sync diagnostics")
	fmt.Printf("  status:      %s (attempts %d, last pong %s)\n", d.Status, d.ReconnectAttempts, d.LastPong.Format(time.RFC3339))
	fmt.Printf("  cache:       %d posts across %d slices\n", d.CacheSize, d.SliceCount)
	fmt.Printf("  queues:      %d feed / %d engagement pending\n", d.FeedQueueDepth, d.EngagementQueueDepth)
	fmt.Printf("  echo marks:  %d\n", d.EchoMarks)
	fmt.Printf("  joined:      %v\n", d.JoinedFeeds)
	fmt.Printf("  uptime:      %s\n", sys.Uptime.Round(time.Second))
	fmt.Printf("  goroutines:  %d\n", sys.NumGoroutines)
	fmt.Printf("  heap:        %.1f MB (%.1f MB sys)\n", sys.MemAllocMB, sys.MemSysMB)
}

func handleInit() {
	example, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example configuration: %v\n", err)
		os.Exit(1)
	}

	path := "mention-sync.yaml"
	if len(os.Args) > 2 {
		path = os.Args[2]
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Refusing to overwrite existing %s\n", path)
		os.Exit(1)
	}

	if err := os.WriteFile(path, example, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote example configuration to %s\n", path)
	fmt.Println("Set MENTION_TOKEN in the environment before starting.")
}

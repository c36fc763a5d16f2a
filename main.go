package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"cryptofetcher/internal/coingecko"
	"cryptofetcher/internal/config"
	"cryptofetcher/internal/coordinator"
	"cryptofetcher/internal/csvstore"
	"cryptofetcher/internal/discovery"
	"cryptofetcher/internal/fetcher"
	"cryptofetcher/internal/ratelimit"
	"cryptofetcher/internal/yahoo"
)

const usage = `Usage: cryptofetcher [flags] [discover|fetch|all]

Jobs:
  discover  refresh the listing of top assets by market cap
  fetch     fetch hourly history for every listed asset
  all       discover, then fetch (default)

Flags:
`

// jobs holds the two batch jobs wired to their providers and storage.
type jobs struct {
	discover *discovery.Discoverer
	fetch    *coordinator.Coordinator
}

func newJobs(cfg *config.Config, fs afero.Fs, log *slog.Logger) *jobs {
	limiter := ratelimit.New(cfg.RateLimits())
	store := csvstore.New(fs, cfg.Layout())

	ranking := coingecko.NewRankingProvider(
		fetcher.NewHTTPClient(cfg.CoinGeckoBaseURL, cfg.HTTPOptions()),
		cfg.CoinGeckoAPIKey,
		limiter,
	)
	history := yahoo.NewHistoryProvider(
		fetcher.NewHTTPClient(cfg.YahooBaseURL, cfg.HTTPOptions()),
		limiter,
	)

	return &jobs{
		discover: discovery.New(ranking, store, cfg.DiscoveryLimit, log),
		fetch:    coordinator.New(history, store, cfg.FetchOptions(), log),
	}
}

// run executes the named job. Job failures are logged by the jobs themselves
// and do not make run fail; only an unknown job name does.
func (j *jobs) run(ctx context.Context, job string) error {
	switch job {
	case "discover":
		j.discover.Run(ctx)
	case "fetch":
		j.fetch.Run(ctx)
	case "all":
		j.discover.Run(ctx)
		j.fetch.Run(ctx)
	default:
		return fmt.Errorf("unknown job %q", job)
	}
	return nil
}

func main() {
	flags := pflag.NewFlagSet("cryptofetcher", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "path to a config file (default: ./config.yaml if present)")
	logLevel := flags.String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	job := "all"
	switch flags.NArg() {
	case 0:
	case 1:
		job = flags.Arg(0)
	default:
		flags.Usage()
		os.Exit(2)
	}

	// Load .env before viper reads the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		os.Setenv("LOG_LEVEL", *logLevel)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	// Create context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newJobs(cfg, afero.NewOsFs(), log).run(ctx, job); err != nil {
		log.Error("cannot run job", "error", err)
		flags.Usage()
		os.Exit(2)
	}
}

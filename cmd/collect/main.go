package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/collector"
	"solana-swap-watch/internal/config"
	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/logging"
	"solana-swap-watch/internal/solana"
	"solana-swap-watch/internal/storage"
	"solana-swap-watch/internal/storage/migrations"
	pgstore "solana-swap-watch/internal/storage/postgres"
)

type output struct {
	Address      string                         `json:"address"`
	Pages        int                            `json:"pages"`
	Signatures   int                            `json:"signatures"`
	Dropped      int                            `json:"dropped"`
	Complete     bool                           `json:"complete"`
	Transactions []*domain.CollectedTransaction `json:"transactions"`
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Path to dotenv file with secrets")
	address := flag.String("address", "", "Address whose signature history is collected (required)")
	outPath := flag.String("out", "", "Write collected transactions as JSON to this file (default stdout)")
	archive := flag.Bool("archive", false, "Also store transactions in PostgreSQL")
	flag.Parse()

	if *address == "" {
		fmt.Fprintln(os.Stderr, "--address is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *archive {
		cfg.Collector.Archive = true
	}
	if err := cfg.ValidateCollector(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *address, *outPath, logger); err != nil {
		logger.WithError(err).Error("Collection failed")
		_ = closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, address, outPath string, logger *logrus.Logger) error {
	var store storage.CollectedTransactionStore
	if cfg.Collector.Archive {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.Storage.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.WithField("versions", applied).Info("Applied postgres migrations")
			}
		}
		store = pgstore.NewCollectedTransactionStore(pool)
	}

	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint, solana.WithMaxRetries(cfg.Solana.MaxRetries))

	c, err := collector.New(collector.Options{
		Source:      rpc,
		Store:       store,
		PageSize:    cfg.Collector.PageSize,
		PageDelay:   cfg.Collector.PageDelay,
		DetailDelay: cfg.Collector.DetailDelay,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	res, runErr := c.Run(ctx, address)
	if res == nil {
		return runErr
	}

	out := output{
		Address:      address,
		Pages:        res.Pages,
		Signatures:   len(res.Signatures),
		Dropped:      res.Dropped,
		Complete:     runErr == nil,
		Transactions: make([]*domain.CollectedTransaction, 0, len(res.Transactions)),
	}
	for _, tx := range res.Transactions {
		out.Transactions = append(out.Transactions, collector.ToCollected(address, tx))
	}

	if err := writeOutput(outPath, out); err != nil {
		return err
	}

	if outPath != "" {
		logger.WithFields(logrus.Fields{"out": outPath, "complete": out.Complete}).Info("Wrote collected transactions")
	}

	// A partial walk is still written out before the error is reported.
	return runErr
}

func writeOutput(path string, out output) error {
	w := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/minutron/minutron/internal/carrier"
	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/danfe"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/extract"
	"github.com/minutron/minutron/internal/fingerprint"
	"github.com/minutron/minutron/internal/ingest"
	"github.com/minutron/minutron/internal/rat"
	"github.com/minutron/minutron/internal/render"
	"github.com/minutron/minutron/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("dir", "", "directory of DANFE PDFs (required)")
		city     = flag.String("city", "", "city printed on the minuta (required)")
		dateStr  = flag.String("date", "", "pickup date YYYY-MM-DD (default today)")
		volumes  = flag.Int("volumes", 1, "number of volumes")
		carrierF = flag.String("carrier", "", "carrier name; overrides the DANFEs")
		out      = flag.String("out", "", "output PDF path (default <dir>/minuta.pdf)")
		offline  = flag.Bool("offline", false, "skip RAT web lookups; cached and fallback statuses only")
		attach   = flag.Bool("attach", false, "append the source DANFEs after the minuta")
	)
	flag.Parse()

	if *dir == "" || strings.TrimSpace(*city) == "" {
		printError("Error: --dir and --city are required\n")
		os.Exit(1)
	}
	if *volumes <= 0 {
		printError("Error: --volumes must be positive\n")
		os.Exit(1)
	}
	date := time.Now().Format("2006-01-02")
	if *dateStr != "" {
		if _, err := time.Parse("2006-01-02", *dateStr); err != nil {
			printError("Error: invalid --date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		}
		date = *dateStr
	}
	if *out == "" {
		*out = filepath.Join(*dir, "minuta.pdf")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		printError("Warning: failed to load .env: %v\n", err)
	}
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := batchOptions{
		dir:     *dir,
		city:    strings.TrimSpace(*city),
		date:    date,
		volumes: *volumes,
		carrier: *carrierF,
		out:     *out,
		offline: *offline,
		attach:  *attach || cfg.Render.MergeDANFEs,
	}
	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("minuta batch failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(*out)
}

type batchOptions struct {
	dir     string
	city    string
	date    string
	volumes int
	carrier string
	out     string
	offline bool
	attach  bool
}

func run(ctx context.Context, cfg *common.Config, opts batchOptions, logger *slog.Logger) error {
	var parseCache danfe.ParseCache
	if cfg.Storage.ParseCacheEnabled {
		pc, err := repository.NewParseCache(cfg.Storage.ParseCacheDir, logger)
		if err != nil {
			return err
		}
		parseCache = pc
	}
	extractor := extract.NewExtractor(extract.Config{
		Pdftotext: cfg.Extract.Pdftotext,
		TableCmd:  cfg.Extract.TableCmd,
	}, logger)
	adapter := danfe.NewAdapter(extractor, danfe.NewDetector(cfg.Extract.IssuerMatch), parseCache, logger)

	logger.Info("starting ingestion", "dir", opts.dir)
	accepted, results, stats, err := ingest.NewIngestor(adapter, true, logger).IngestDirectory(ctx, opts.dir, fingerprint.NewSet())
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Outcome != ingest.OutcomeAccepted || r.Unreadable {
			logger.Warn("file not used as parsed", "path", r.Path, "outcome", r.Outcome, "unreadable", r.Unreadable, "error", r.Err)
		}
	}
	if len(accepted) == 0 {
		return common.NewAppError("NO_DOCUMENTS", "no DANFE accepted from "+opts.dir, common.ErrNoDocuments)
	}
	logger.Info("ingestion complete", "accepted", stats.Accepted, "duplicates", stats.Deduplicated, "rejected", stats.Rejected)

	header, items, err := adapter.ExtractBatch(ctx, accepted)
	if err != nil {
		return err
	}

	carriers := repository.NewCarrierDirectory(cfg.Storage.DataDir, logger)
	header.Carrier = pickCarrier(ctx, header.SeenCarriers, opts.carrier, carriers, logger)

	if err := resolveStatuses(ctx, cfg, items, opts.offline, logger); err != nil {
		return err
	}

	header.Date = opts.date
	header.Volumes = opts.volumes
	header.TotalValue = entity.SumLineValues(items)

	renderer := render.NewMinutaRenderer(cfg.Render.TemplatePath, cfg.Render.Soffice, logger,
		render.WithAttachments(opts.attach),
	)
	return renderer.Render(ctx, render.Request{
		City:        opts.city,
		Header:      header,
		Items:       items,
		Date:        opts.date,
		Volumes:     opts.volumes,
		OutPath:     opts.out,
		Attachments: accepted,
	})
}

// pickCarrier applies the reconciliation table with the flag as default.
// There is nobody to confirm with, so the suggested name is used and the
// alternatives are logged.
func pickCarrier(ctx context.Context, seen []string, flagValue string, dir repository.CarrierDirectory, logger *slog.Logger) string {
	def := strings.ToUpper(strings.TrimSpace(flagValue))
	if def != "" {
		if match, ok := dir.BestMatch(ctx, def); ok {
			def = match
		}
	}
	d := carrier.Resolve(seen, def)
	if d.NeedsConfirmation {
		logger.Warn("carrier not confirmed, using suggestion", "carrier", d.Chosen, "options", d.Options)
	}
	names := seen
	if d.Chosen != "" {
		names = append([]string{d.Chosen}, seen...)
	}
	if err := dir.AddMany(ctx, names); err != nil {
		logger.Warn("failed to update carrier directory", "error", err)
	}
	return d.Chosen
}

func resolveStatuses(ctx context.Context, cfg *common.Config, items []entity.LineItem, offline bool, logger *slog.Logger) error {
	var cache rat.Cache = rat.NewMemoryCache()
	if cfg.Storage.StatusCacheDSN != "" {
		db, err := repository.Open(ctx, repository.Config{DSN: cfg.Storage.StatusCacheDSN, DialTimeout: 10 * time.Second}, logger)
		if err != nil {
			return err
		}
		defer db.Close(logger)
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		cache = rat.NewLayeredCache(cache, repository.NewSQLStatusCache(db, logger))
	}

	var lookup rat.Lookup
	if offline {
		lookup = rat.LookupFunc(func(context.Context, string, string) (string, error) {
			return "", rat.ErrNotFound
		})
	} else {
		bl := rat.NewBrowserLookup(rat.BrowserConfig{
			URL:         cfg.RAT.URL,
			Headless:    cfg.RAT.Headless,
			Bin:         cfg.RAT.BrowserBin,
			StepTimeout: cfg.RAT.StepTimeout,
		}, logger)
		defer func() {
			if err := bl.Close(); err != nil {
				logger.Warn("failed to close browser", "error", err)
			}
		}()
		lookup = bl
	}

	resolver := rat.NewResolver(lookup, cache, logger,
		rat.WithConcurrency(cfg.RAT.Concurrency),
		rat.WithGrace(cfg.RAT.Grace),
	)
	return resolver.Resolve(ctx, items, cfg.RAT.Timeout)
}

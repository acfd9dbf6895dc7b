// Command sbomgen enriches CycloneDX SBOM documents with ClearlyDefined
// license data, respecting the rate limits the service declares.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/p2repo/sbomgen/internal/clearlydefined"
	"github.com/p2repo/sbomgen/internal/content"
	"github.com/p2repo/sbomgen/internal/enricher"
	"github.com/p2repo/sbomgen/internal/metrics"
	"github.com/p2repo/sbomgen/internal/server"
	"github.com/p2repo/sbomgen/internal/version"
)

const (
	// exitInvalidArgs is the exit code for invalid arguments.
	exitInvalidArgs = 1
	// exitRuntimeError is the exit code for runtime errors.
	exitRuntimeError = 3
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sbomgen",
		Short: "SBOM enrichment via ClearlyDefined",
		Long: `sbomgen enriches CycloneDX SBOM documents with declared-license data
from the ClearlyDefined API.

Requests are scheduled against the rate limits the service declares, and
responses (including confirmed-absent answers) are cached so repeated runs
avoid the network.`,
		Version:       version.Get(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errInvalidArgs) {
			os.Exit(exitInvalidArgs)
		}
		os.Exit(exitRuntimeError)
	}
}

var errInvalidArgs = errors.New("invalid arguments")

// commonFlags are the flags shared by the enrich and serve commands.
type commonFlags struct {
	cachePath   string
	apiBaseURL  string
	workers     int
	requestRate float64
	maxAttempts int
	verbose     bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cachePath, "cache", "",
		"Path to a persistent cache file (empty = in-memory only)")
	cmd.Flags().StringVar(&f.apiBaseURL, "api", "",
		"ClearlyDefined API base URL (empty = public API)")
	cmd.Flags().IntVar(&f.workers, "workers", 8,
		"Number of concurrent request workers")
	cmd.Flags().Float64Var(&f.requestRate, "rate", 0,
		"Courtesy client-side request rate in requests per second (0 = none)")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 0,
		"Maximum attempts per request before giving up (0 = retry forever)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false,
		"Verbose output (debug mode)")
}

// newContentHandler builds the content handler: a plain in-memory handler,
// or a memory tier in front of a bbolt file when --cache is given.
func (f *commonFlags) newContentHandler(logger *slog.Logger) (content.Handler, error) {
	if f.cachePath == "" {
		logger.Debug("using in-memory cache")
		return content.NewMemoryHandler(), nil
	}

	db, err := bbolt.Open(f.cachePath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	persistent, err := content.NewBboltHandler(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	logger.Debug("using persistent cache", "path", f.cachePath)
	return content.NewTieredHandler(persistent), nil
}

func (f *commonFlags) newAPI(handler content.Handler, logger *slog.Logger, m *metrics.Metrics) *clearlydefined.Api {
	return clearlydefined.New(handler,
		clearlydefined.WithWorkers(f.workers),
		clearlydefined.WithLogger(logger),
		clearlydefined.WithMetrics(m),
		clearlydefined.WithRequestRate(f.requestRate),
		clearlydefined.WithMaxAttempts(f.maxAttempts),
	)
}

func enrichCmd() *cobra.Command {
	flags := &commonFlags{}
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "enrich <sbom-file>",
		Short: "Enrich a CycloneDX SBOM file",
		Long: `Enrich a CycloneDX SBOM file with declared-license properties from
ClearlyDefined. The enriched SBOM is written to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.verbose)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("%w: read file: %v", errInvalidArgs, err)
			}

			handler, err := flags.newContentHandler(logger)
			if err != nil {
				return err
			}
			defer handler.Close()

			ctx, cancel := signalContext(context.Background(), timeout)
			defer cancel()

			api := flags.newAPI(handler, logger, nil)
			defer api.Shutdown()

			enrichmentService := enricher.New(api, enricher.Options{
				Logger:  logger,
				BaseURL: flags.apiBaseURL,
			})

			enriched, err := enrichmentService.Enrich(ctx, data)
			if err != nil {
				return fmt.Errorf("enrich SBOM: %w", err)
			}

			if _, err := os.Stdout.Write(enriched); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintln(os.Stdout)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute,
		"Timeout for the enrichment operation")
	return cmd
}

func serveCmd() *cobra.Command {
	flags := &commonFlags{}
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the enrichment daemon",
		Long: `Run an HTTP daemon exposing POST /enrich, GET /health and GET /metrics.
All requests share one rate-limit-aware request manager and one cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.verbose)

			handler, err := flags.newContentHandler(logger)
			if err != nil {
				return err
			}
			defer handler.Close()

			registry := prometheus.NewRegistry()
			api := flags.newAPI(handler, logger, metrics.New(registry))
			defer api.Shutdown()

			enrichmentService := enricher.New(api, enricher.Options{
				Logger:  logger,
				BaseURL: flags.apiBaseURL,
			})

			srv := &http.Server{
				Addr:              listen,
				Handler:           server.NewServer(enrichmentService, registry, logger, version.Get()).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := signalContext(context.Background(), 0)
			defer cancel()
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer shutdownCancel()
				if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
					logger.Error("server shutdown failed", "error", shutdownErr)
				}
			}()

			logger.Info("listening", "addr", listen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&listen, "listen", ":8080", "Listen address")
	return cmd
}

// setupLogger sets up the logger based on the verbose flag.
func setupLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// signalContext derives a context cancelled by SIGINT/SIGTERM and, when
// timeout is positive, by a deadline.
func signalContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := parent
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

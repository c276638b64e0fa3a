// Command argusd runs the detection and evidence-processing daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/argus-soc/argus/internal/adapters"
	"github.com/argus-soc/argus/internal/config"
	"github.com/argus-soc/argus/internal/detect"
	"github.com/argus-soc/argus/internal/jobs"
	"github.com/argus-soc/argus/internal/logging"
	"github.com/argus-soc/argus/internal/notifications"
	"github.com/argus-soc/argus/internal/parsers"
	"github.com/argus-soc/argus/internal/search"
	"github.com/argus-soc/argus/internal/store"
	"github.com/argus-soc/argus/internal/websocket"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "argusd",
	Short:   "Argus - security detection and evidence processing daemon",
	Long:    `Argus ingests forensic evidence, normalizes events into the search backend, evaluates detection rules, and drives containment through configured adapters.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Argus %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the environment configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("configuration ok (data dir %s)\n", cfg.DataDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "argusd",
	})
	log.Info().Str("version", Version).Str("data_dir", cfg.DataDir).Msg("starting argus")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	svc, err := buildSearchService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alert sinks: console stream plus outbound notifications.
	hub := websocket.NewHub()
	dispatcher := notifications.NewDispatcher()
	if cfg.WebhookURL != "" {
		webhook, err := notifications.NewWebhookChannel(notifications.WebhookConfig{
			Name:        "default-webhook",
			URL:         cfg.WebhookURL,
			MinSeverity: cfg.WebhookMinSeverity,
		})
		if err != nil {
			return fmt.Errorf("failed to configure webhook channel: %w", err)
		}
		dispatcher.AddChannel(webhook)
	}

	engine := detect.NewEngine(st, svc, detect.Config{
		DedupWindow:     cfg.DedupWindow,
		RuleTimeout:     cfg.RuleTimeout,
		MaxAlertsPerRun: cfg.MaxAlertsPerRun,
		DefaultIndices:  []string{cfg.IndexPrefix + "*"},
	}, hub, dispatcher)
	engine.OnRuleDisabled(dispatcher.RuleDisabled)

	scheduler := detect.NewScheduler(engine, st.Rules, cfg.RuleWorkers)

	orchestrator := jobs.NewOrchestrator(
		st.Jobs,
		parsers.NewDefaultRegistry(),
		svc,
		&jobs.DirEvidence{Root: cfg.EvidenceDir},
		jobs.Config{
			Workers:      cfg.JobWorkers,
			ChunkSize:    cfg.ChunkSize,
			PromoteAfter: cfg.PromoteAfter,
			IndexPrefix:  cfg.IndexPrefix,
		},
	)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	metricsSrv := startMetricsServer(cfg.MetricsAddr)

	var wg sync.WaitGroup
	for _, task := range []func(context.Context){
		hub.Run,
		dispatcher.Run,
		scheduler.Run,
		orchestrator.Run,
		func(ctx context.Context) { runAdapterHealthLoop(ctx, registry) },
	} {
		wg.Add(1)
		task := task
		go func() {
			defer wg.Done()
			task(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown failed")
	}

	log.Info().Msg("argus stopped")
	return nil
}

// buildSearchService selects the HTTP search backend when configured and the
// in-memory service otherwise.
func buildSearchService(cfg *config.Config) (search.Service, error) {
	if cfg.SearchURL == "" {
		log.Warn().Msg("no search backend configured, using in-memory service")
		return search.NewMemory(), nil
	}
	client, err := search.NewClient(search.ClientConfig{
		URL:      cfg.SearchURL,
		Username: cfg.SearchUsername,
		Password: cfg.SearchPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	return client, nil
}

// buildRegistry registers the adapters configured through the environment.
// The evidence directory doubles as the local object store.
func buildRegistry(cfg *config.Config) (*adapters.Registry, error) {
	registry := adapters.NewRegistry()
	if err := registry.Register(adapters.RoleStorage, adapters.NewFSStorage("local", cfg.EvidenceDir)); err != nil {
		return nil, fmt.Errorf("failed to register storage adapter: %w", err)
	}
	if cfg.EDRURL != "" {
		edr := adapters.NewEDRAdapter("edr", adapters.Config{URL: cfg.EDRURL, APIKey: cfg.EDRAPIKey, VerifySSL: true})
		if err := registry.Register(adapters.RoleCollector, edr); err != nil {
			return nil, fmt.Errorf("failed to register EDR adapter: %w", err)
		}
	}
	if cfg.SOARURL != "" {
		soar := adapters.NewSOARAdapter("soar", adapters.Config{URL: cfg.SOARURL, APIKey: cfg.SOARAPIKey, VerifySSL: true})
		if err := registry.Register(adapters.RoleSOAR, soar); err != nil {
			return nil, fmt.Errorf("failed to register SOAR adapter: %w", err)
		}
	}
	return registry, nil
}

// runAdapterHealthLoop probes every registered adapter once a minute and
// logs degradations.
func runAdapterHealthLoop(ctx context.Context, registry *adapters.Registry) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for role, names := range registry.List() {
				for _, name := range names {
					adapter, ok := registry.Get(role, name)
					if !ok {
						continue
					}
					probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
					health, err := adapter.HealthCheck(probeCtx)
					cancel()
					switch {
					case err != nil:
						log.Warn().Err(err).Str("adapter", name).Msg("adapter health check failed")
					case health.Status != adapters.HealthHealthy:
						log.Warn().Str("adapter", name).Str("status", string(health.Status)).
							Str("message", health.Message).Msg("adapter unhealthy")
					}
				}
			}
		}
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	coachconfig "github.com/mottych/PurposePath-AI-sub003/pkg/config"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm/factory"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/retention"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/server"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/backend"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coaching engine HTTP server",
	Long: `Start the coaching session engine.

The server will:
- Open the configured storage backend and apply pending migrations
- Register builtin topics plus any topic packs
- Initialize the configured LLM providers
- Run retention sweeps on a cron schedule
- Listen for HTTP requests on the specified port

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	// Validate configuration
	if err := config.Validate(); err != nil {
		stdlog.Fatalf("Configuration validation failed: %v", err)
	}

	// Create production logger (stack traces only for ERROR level)
	zapConfig := zap.NewProductionConfig()

	// Parse and set log level from config
	logLevel := zap.InfoLevel // default
	if config.Logging.Level != "" {
		if err := logLevel.UnmarshalText([]byte(config.Logging.Level)); err != nil {
			stdlog.Printf("Invalid log level %q, using INFO: %v", config.Logging.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if config.Logging.Format == "console" {
		zapConfig.Encoding = "console"
	}

	// Configure log output file if specified
	if config.Logging.File != "" {
		zapConfig.OutputPaths = []string{config.Logging.File}
		zapConfig.ErrorOutputPaths = []string{config.Logging.File}
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		stdlog.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	log.SetLogger(logger)

	logger.Info("Starting coaching engine", zap.String("version", rootCmd.Version))

	// Show actual config file used (not just the --config flag)
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		logger.Info("Config file loaded", zap.String("path", configFileUsed))
	} else {
		logger.Info("No config file found", zap.String("searched", "$COACHD_DATA_DIR/coachd.yaml, ./coachd.yaml, /etc/coachd/coachd.yaml"))
		logger.Info("Using defaults + environment variables")
	}

	tracer := observability.NewNoOpTracer()
	ctx := context.Background()

	// Storage backend
	store, err := backend.NewStorageBackend(ctx, config.Storage, tracer)
	if err != nil {
		logger.Fatal("Failed to open storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("Storage migration failed", zap.Error(err))
	}
	logger.Info("Storage ready", zap.String("backend", config.Storage.Backend))

	// Topic packs: load definitions and stage their templates in a
	// dedicated store tier before registration validates them.
	packStore := prompts.NewMemoryStore()
	var packs []*coachconfig.TopicPack
	if config.Prompts.PacksDir != "" {
		packs, err = coachconfig.LoadTopicPackDir(config.Prompts.PacksDir)
		if err != nil {
			logger.Fatal("Topic pack loading failed", zap.String("dir", config.Prompts.PacksDir), zap.Error(err))
		}
		for _, pack := range packs {
			for ref, text := range pack.Templates {
				packStore.Put(ref, text)
			}
		}
	}

	// Template store: operator overrides layered over pack templates
	// over embedded defaults.
	promptStore, watchStores, err := buildPromptStore(ctx, logger, packStore)
	if err != nil {
		logger.Fatal("Failed to build template store", zap.Error(err))
	}

	// Topic registry: builtins plus topic packs
	registry := topics.NewRegistry(promptStore)
	if err := topics.RegisterBuiltins(ctx, registry); err != nil {
		logger.Fatal("Builtin topic registration failed", zap.Error(err))
	}
	for _, pack := range packs {
		for _, def := range pack.Definitions {
			if err := registry.Register(ctx, def); err != nil {
				logger.Fatal("Topic pack registration failed",
					zap.String("pack", pack.Name),
					zap.String("topic", def.ID),
					zap.Error(err))
			}
		}
		logger.Info("Topic pack loaded",
			zap.String("pack", pack.Name),
			zap.String("version", pack.Version),
			zap.Int("topics", len(pack.Definitions)))
	}
	logger.Info("Topic registry ready", zap.Int("topics", registry.Len()))

	// Template hot-reload: drain watch channels so cache entries
	// invalidate and operators see edits logged.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if config.Prompts.HotReload {
		for _, ws := range watchStores {
			updates, err := ws.Watch(watchCtx)
			if err != nil {
				logger.Warn("Template watch unavailable", zap.Error(err))
				continue
			}
			go func() {
				for u := range updates {
					logger.Info("Template updated",
						zap.String("ref", u.Ref),
						zap.String("action", u.Action),
						zap.String("version", u.Version))
				}
			}()
		}
	}

	// LLM providers and gateway
	models := llm.DefaultRegistry()
	providers, err := factory.NewProviders(factory.Config{
		Anthropic: factory.AnthropicConfig{
			Enabled:  config.LLM.Providers.Anthropic.Enabled,
			APIKey:   config.LLM.Providers.Anthropic.APIKey,
			Endpoint: config.LLM.Providers.Anthropic.Endpoint,
			Timeout:  time.Duration(config.LLM.Providers.Anthropic.TimeoutSeconds) * time.Second,
		},
		Bedrock: factory.BedrockConfig{
			Enabled:         config.LLM.Providers.Bedrock.Enabled,
			Region:          config.LLM.Providers.Bedrock.Region,
			AccessKeyID:     config.LLM.Providers.Bedrock.AccessKeyID,
			SecretAccessKey: config.LLM.Providers.Bedrock.SecretAccessKey,
			SessionToken:    config.LLM.Providers.Bedrock.SessionToken,
			Profile:         config.LLM.Providers.Bedrock.Profile,
		},
		OpenAI: factory.OpenAIConfig{
			Enabled: config.LLM.Providers.OpenAI.Enabled,
			APIKey:  config.LLM.Providers.OpenAI.APIKey,
			BaseURL: config.LLM.Providers.OpenAI.BaseURL,
			Timeout: time.Duration(config.LLM.Providers.OpenAI.TimeoutSeconds) * time.Second,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("LLM provider initialization failed", zap.Error(err))
	}
	gatewayCfg := llm.DefaultGatewayConfig()
	if config.LLM.Gateway.RetryBackoffMS > 0 {
		gatewayCfg.RetryBackoff = time.Duration(config.LLM.Gateway.RetryBackoffMS) * time.Millisecond
	}
	if config.LLM.Gateway.DefaultConcurrency > 0 {
		gatewayCfg.DefaultConcurrency = config.LLM.Gateway.DefaultConcurrency
	}
	gateway := llm.NewGateway(models, providers, gatewayCfg, tracer)
	logger.Info("LLM gateway ready", zap.Int("providers", len(providers)))

	// Runtime configuration: cached reads over the storage backend
	configStore := runtimeconfig.NewCachedStore(store.Configs(),
		time.Duration(config.Session.ConfigCacheTTLSeconds)*time.Second, tracer)
	configService := runtimeconfig.NewService(configStore, models, tracer)

	// Session orchestrator
	renderer := prompts.NewRenderer(promptStore, tracer)
	orchCfg := session.DefaultConfig()
	if config.Session.MaxWriteRetries > 0 {
		orchCfg.MaxWriteRetries = config.Session.MaxWriteRetries
	}
	if config.Session.MaxUserMessageBytes > 0 {
		orchCfg.MaxUserMessageBytes = config.Session.MaxUserMessageBytes
	}
	orch := session.NewOrchestrator(registry, configStore, renderer, gateway, store.Sessions(), orchCfg, tracer)
	defer orch.Close()

	// Retention sweeper
	var sweeper *retention.Sweeper
	if config.Retention.Enabled {
		sweeper, err = retention.NewSweeper(store.Sessions(), retention.Config{
			Schedule:           config.Retention.Schedule,
			TerminalRetention:  time.Duration(config.Retention.TerminalRetentionDays) * 24 * time.Hour,
			ResumableRetention: time.Duration(config.Retention.ResumableRetentionDays) * 24 * time.Hour,
			Events:             orch.Events(),
		}, tracer)
		if err != nil {
			logger.Fatal("Retention sweeper initialization failed", zap.Error(err))
		}
		sweeper.Start()
		defer sweeper.Stop(context.Background())
		logger.Info("Retention sweeper started", zap.String("schedule", config.Retention.Schedule))
	}

	// HTTP server
	srv := server.New(config.Server, server.Deps{
		Sessions: orch,
		Configs:  configService,
		Topics:   registry,
		Models:   models,
		Lister:   store.Sessions(),
		Health:   store,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr()))
		errCh <- srv.Start()
	}()

	// Handle graceful shutdown
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigch:
		logger.Info("Shutting down gracefully... (press Ctrl+C again to force)", zap.String("signal", sig.String()))

		// Listen for second Ctrl+C (force shutdown)
		go func() {
			<-sigch
			logger.Warn("Force shutdown requested")
			os.Exit(1)
		}()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error stopping HTTP server", zap.Error(err))
		} else {
			logger.Info("HTTP server stopped")
		}

	case err := <-errCh:
		if err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
}

// buildPromptStore assembles the layered template store. Returned
// watch stores are the tiers worth watching for hot reload (the cache
// wrapper invalidates through its own Watch).
func buildPromptStore(ctx context.Context, logger *zap.Logger, packStore *prompts.MemoryStore) (prompts.Store, []prompts.Store, error) {
	embedded, err := topics.EmbeddedTemplates()
	if err != nil {
		return nil, nil, err
	}

	tiers := []prompts.Store{}
	if config.Prompts.Dir != "" {
		fileStore := prompts.NewFileStore(config.Prompts.Dir)
		if err := fileStore.Reload(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("Template overrides loaded", zap.String("dir", config.Prompts.Dir))
		tiers = append(tiers, fileStore)
	}
	tiers = append(tiers, packStore, embedded)

	var store prompts.Store = prompts.NewTieredStore(tiers...)
	var watched []prompts.Store
	if config.Prompts.CacheTTLSeconds > 0 {
		cached := prompts.NewCachedStore(store, time.Duration(config.Prompts.CacheTTLSeconds)*time.Second, nil)
		store = cached
		watched = []prompts.Store{cached}
	} else {
		watched = []prompts.Store{store}
	}
	return store, watched, nil
}

// Package main provides the moodlist service entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"moodlist/internal/anchor"
	"moodlist/internal/background"
	"moodlist/internal/cache"
	"moodlist/internal/catalog"
	"moodlist/internal/core"
	"moodlist/internal/engine"
	"moodlist/internal/features"
	"moodlist/internal/guard"
	"moodlist/internal/httpserver"
	"moodlist/internal/httpx"
	"moodlist/internal/llm"
	"moodlist/internal/mood"
	"moodlist/internal/playlist"
	"moodlist/internal/registry"
	"moodlist/internal/seeds"
	"moodlist/internal/strategy"
	"moodlist/internal/token"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "moodlist",
	Short: "Moodlist - mood-based playlist recommendation service",
	Long: `Moodlist turns a free-text mood prompt into a playlist by blending the
user's listening history with LLM mood analysis, anchor tracks, and
artist discovery over the Spotify and ReccoBeats APIs.`,
	RunE: runServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single recommendation workflow and print the result",
	RunE:  runOnce,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Start or complete the Spotify login for a user",
	RunE:  runAuth,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("catalog-base-url", "", "Catalog API base URL")
	rootCmd.PersistentFlags().String("features-base-url", "", "Features API base URL")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("token-store", "", "path to the sqlite token store")
	rootCmd.PersistentFlags().String("llm-provider", "none", "LLM provider (openai, anthropic, ollama, none)")
	rootCmd.PersistentFlags().String("llm-model", "", "LLM model name")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM API key")
	rootCmd.PersistentFlags().String("llm-base-url", "", "LLM base URL (ollama)")
	rootCmd.PersistentFlags().String("cache-backend", "memory", "cache backend (memory, redis)")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis URL for the redis cache backend")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().Int("target-count", 0, "playlist target track count")
	rootCmd.PersistentFlags().Bool("precompute-enabled", false, "precompute popular moods on startup")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	runCmd.Flags().String("user", "", "user ID to run the workflow for")
	runCmd.Flags().String("prompt", "", "mood prompt")
	runCmd.Flags().Bool("publish", false, "publish the result as a playlist")
	runCmd.Flags().String("playlist-name", "", "playlist name when publishing")

	authCmd.Flags().String("user", "", "user ID to authenticate")
	authCmd.Flags().String("code", "", "authorization code to complete the login")

	rootCmd.AddCommand(runCmd, authCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("MOODLIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	if v := viper.GetString("catalog-base-url"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := viper.GetString("features-base-url"); v != "" {
		cfg.Features.BaseURL = v
	}

	cfg.Token.ClientID = viper.GetString("spotify-client-id")
	cfg.Token.ClientSecret = viper.GetString("spotify-client-secret")
	if v := viper.GetString("token-store"); v != "" {
		cfg.Token.StorePath = v
	}

	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")

	cfg.Cache.Backend = viper.GetString("cache-backend")
	cfg.Cache.RedisURL = viper.GetString("redis-url")

	cfg.Server.Port = viper.GetInt("server-port")
	if v := viper.GetInt("target-count"); v > 0 {
		cfg.Engine.TargetCount = v
	}

	cfg.Background.PrecomputeEnabled = viper.GetBool("precompute-enabled")
	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

// service bundles everything a command needs after wiring.
type service struct {
	cache        *cache.Manager
	tokens       *token.Manager
	tokenStore   *token.Store
	catalog      *catalog.Client
	orchestrator *engine.Orchestrator
	publisher    *playlist.Publisher
	server       *httpserver.Server
	gatherer     *seeds.Gatherer
}

// buildService wires the full dependency graph. withServer controls whether
// the metrics server (and its prometheus registration) is created; one-shot
// commands skip it.
func buildService(withServer bool) (*service, error) {
	backend, err := buildCacheBackend()
	if err != nil {
		return nil, err
	}
	cacheManager := cache.NewManager(backend, config.Cache.KeyPrefix, logger.Named("cache"))

	// The registry is sole writer of ID mappings only when nothing else
	// shares the backend.
	soleWriter := config.Cache.Backend != "redis"
	reg := registry.New(cacheManager, soleWriter, logger)
	guardrails := guard.New(cacheManager, logger)

	shared := httpx.NewShared(config.Features.MaxConcurrency, logger)
	catalogClient := catalog.NewClient(config.Catalog, shared, cacheManager, logger)
	featuresClient := features.NewClient(config.Features, shared, logger)

	analyzer, err := llm.NewAnalyzer(config.LLM, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM analyzer: %w", err)
	}

	tokenStore, err := token.OpenStore(config.Token.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	tokens := token.NewManager(tokenStore, config.Token, logger)

	gatherer := seeds.NewGatherer(catalogClient, featuresClient, reg, cacheManager, logger)

	var server *httpserver.Server
	var metrics *httpserver.Metrics
	if withServer {
		server = httpserver.NewServer(&config.Server, logger.Named("http"))
		metrics = server.GetMetrics()
	}

	orchestrator := engine.New(config.Engine, engine.Deps{
		Mood:       mood.NewEngine(analyzer, cacheManager, logger),
		Anchors:    anchor.NewSelector(catalogClient, analyzer, cacheManager, logger),
		Gatherer:   gatherer,
		Catalog:    catalogClient,
		Tokens:     tokens,
		UserAnchor: strategy.NewUserAnchor(catalogClient, logger),
		Discovery:  strategy.NewArtistDiscovery(catalogClient, featuresClient, cacheManager, logger),
		SeedBased:  strategy.NewSeedBased(featuresClient, guardrails, reg, logger),
		Fallback:   strategy.NewFallback(featuresClient, logger),
		Cache:      cacheManager,
		Metrics:    metrics,
	}, logger)

	return &service{
		cache:        cacheManager,
		tokens:       tokens,
		tokenStore:   tokenStore,
		catalog:      catalogClient,
		orchestrator: orchestrator,
		publisher:    playlist.NewPublisher(catalogClient, logger),
		server:       server,
		gatherer:     gatherer,
	}, nil
}

func buildCacheBackend() (cache.Backend, error) {
	switch config.Cache.Backend {
	case "redis":
		backend, err := cache.NewRedis(config.Cache.RedisURL, config.Cache.KeyPrefix,
			config.Cache.RedisPoolSize, logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return backend, nil
	case "memory", "":
		return cache.NewMemory(config.Cache.MemoryMaxSize), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", config.Cache.Backend)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting moodlist",
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("cache_backend", config.Cache.Backend),
		zap.Bool("precompute", config.Background.PrecomputeEnabled))

	svc, err := buildService(true)
	if err != nil {
		return err
	}
	defer svc.tokenStore.Close()
	defer svc.cache.Close()

	tasks := background.NewManager(logger)
	precompute := background.NewPrecompute(config.Background, svc.orchestrator, svc.cache, logger)
	precompute.Start(tasks)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.server.Start(gCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				svc.server.GetMetrics().CacheHitRate.Set(svc.cache.Stats().HitRate())
			}
		}
	})

	logger.Info("moodlist started",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	err = g.Wait()
	tasks.Shutdown()
	if err != nil {
		logger.Error("moodlist stopped with error", zap.Error(err))
		return err
	}

	logger.Info("moodlist stopped gracefully")
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	prompt, _ := cmd.Flags().GetString("prompt")
	if userID == "" || prompt == "" {
		return fmt.Errorf("both --user and --prompt are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := buildService(false)
	if err != nil {
		return err
	}
	defer svc.tokenStore.Close()
	defer svc.cache.Close()

	state, err := svc.orchestrator.Run(ctx, userID, prompt)
	if err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}

	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		name, _ := cmd.Flags().GetString("playlist-name")
		if name == "" {
			name = "Moodlist: " + prompt
		}
		tok, err := svc.tokens.EnsureValidToken(ctx, userID)
		if err != nil {
			return err
		}
		playlistID, err := svc.publisher.Publish(ctx, tok, userID, name,
			state.MoodAnalysis.MoodInterpretation, state.Recommendations)
		if err != nil {
			return err
		}
		fmt.Printf("playlist created: %s\n", playlistID)
	}

	out, err := json.MarshalIndent(state.Recommendations, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runAuth(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	svc, err := buildService(false)
	if err != nil {
		return err
	}
	defer svc.tokenStore.Close()
	defer svc.cache.Close()

	code, _ := cmd.Flags().GetString("code")
	if code == "" {
		fmt.Printf("Open this URL to authorize:\n%s\n", svc.tokens.AuthURL(userID))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.tokens.CompleteAuth(ctx, userID, code); err != nil {
		return fmt.Errorf("failed to complete login: %w", err)
	}

	// Warm the new user's caches so the first workflow starts fast.
	tasks := background.NewManager(logger)
	background.WarmUser(tasks, svc.gatherer, svc.tokens, userID, logger)
	tasks.Shutdown()

	fmt.Println("login complete")
	return nil
}

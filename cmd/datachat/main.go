// Package main is the entry point for the datachat CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/altiviz/datachat/internal/answer"
	"github.com/altiviz/datachat/internal/api"
	"github.com/altiviz/datachat/internal/api/handlers"
	"github.com/altiviz/datachat/internal/chunker"
	"github.com/altiviz/datachat/internal/config"
	"github.com/altiviz/datachat/internal/embedder"
	"github.com/altiviz/datachat/internal/ingest"
	"github.com/altiviz/datachat/internal/llm"
	"github.com/altiviz/datachat/internal/realtime"
	"github.com/altiviz/datachat/internal/retrieval"
	"github.com/altiviz/datachat/internal/retrieval/evaluation"
	"github.com/altiviz/datachat/internal/sqlgen"
	"github.com/altiviz/datachat/internal/storage"
	"github.com/altiviz/datachat/pkg/logger"
	"github.com/altiviz/datachat/pkg/shutdown"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "datachat",
		Short:   "Natural-language questions over your data and documents",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newEvalCmd())
	return rootCmd.Execute()
}

// app holds the wired service graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	stop     *shutdown.Handler
	db       *storage.PostgresDB
	analytic *storage.AnalyticDB
	redis    *storage.RedisClient
	objects  *storage.MinIOStorage
	nats     *realtime.NATSClient

	documents *storage.DocumentStore
	datasets  *storage.DatasetStore
	registry  *llm.Registry
	chain     *llm.Chain
	embedder  embedder.Embedder
	chunker   *chunker.Chunker
}

func newApp(ctx context.Context, needNATS bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	a := &app{
		cfg:  cfg,
		log:  log,
		stop: shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second),
	}

	db, err := storage.NewPostgres(storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	a.stop.Register("database", func(ctx context.Context) error { return db.Close() })

	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	analytic, err := storage.NewAnalyticDB(cfg.Analytic.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytic database: %w", err)
	}
	a.analytic = analytic
	a.stop.Register("analytic", func(ctx context.Context) error { return analytic.Close() })

	if cfg.Redis.Enabled {
		redis, err := storage.NewRedisClient(storage.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("redis unavailable, caching disabled", "error", err)
		} else {
			a.redis = redis
			a.stop.Register("redis", func(ctx context.Context) error { return redis.Close() })
		}
	}

	objects, err := storage.NewMinIOStorage(ctx, storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}
	a.objects = objects

	if needNATS {
		nc, err := realtime.NewNATSClient(realtime.DefaultNATSConfig(cfg.NATS.URL), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		if err := nc.SetupStreams(ctx); err != nil {
			return nil, fmt.Errorf("failed to set up streams: %w", err)
		}
		a.nats = nc
		a.stop.Register("nats", func(ctx context.Context) error { return nc.Close() })
	}

	a.documents = storage.NewDocumentStore(db)
	a.datasets = storage.NewDatasetStore(db)
	a.registry = llm.NewRegistry(cfg.LLM.FallbackModels, cfg.LLM.OfflineEnabled)

	offline, err := llm.NewOllamaProvider(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel, cfg.LLM.MaxTokens, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build local provider: %w", err)
	}
	cloudFactory := func(model string) (llm.Provider, error) {
		return llm.NewOpenRouterProvider(cfg.LLM.OpenRouterBaseURL, cfg.LLM.OpenRouterKey, model, cfg.LLM.MaxTokens, log.Logger)
	}
	a.chain = llm.NewChain(a.registry, cloudFactory, offline, log.Logger)

	if cfg.LLM.EmbeddingModel != "" {
		emb, err := embedder.New(embedder.DefaultConfig(cfg.LLM.EmbeddingKey, cfg.LLM.EmbeddingModel), log)
		if err != nil {
			log.Warn("embedder unavailable, retrieval degrades to lexical scoring", "error", err)
		} else {
			a.embedder = emb
		}
	}

	ch, err := chunker.New(chunker.Config{
		MaxTokens:     cfg.Ingest.ChunkTokens,
		OverlapTokens: cfg.Ingest.OverlapTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build chunker: %w", err)
	}
	a.chunker = ch

	return a, nil
}

// searchCache returns the shared retrieval cache, nil when Redis is
// absent or caching is disabled.
func (a *app) searchCache() *storage.SearchCache {
	if a.redis == nil || !a.cfg.Retrieval.CacheEnabled {
		return nil
	}
	return storage.NewSearchCache(a.redis)
}

func (a *app) retriever() *retrieval.Retriever {
	var emb retrieval.Embedder
	if a.embedder != nil {
		emb = a.embedder
	}
	var cache retrieval.ResultCache
	if sc := a.searchCache(); sc != nil {
		cache = sc
	}
	return retrieval.New(a.documents, emb, cache, a.log.Logger, retrieval.Config{
		DefaultTopK:   a.cfg.Retrieval.TopK,
		VectorWeight:  a.cfg.Retrieval.VectorWeight,
		KeywordWeight: a.cfg.Retrieval.KeywordWeight,
		HybridFloor:   a.cfg.Retrieval.HybridFloor,
		CacheEnabled:  a.cfg.Retrieval.CacheEnabled,
	})
}

func (a *app) pipeline() *ingest.Pipeline {
	var notifier ingest.StatusNotifier
	if a.nats != nil {
		notifier = a.nats
	}
	var cache ingest.ResultCache
	if sc := a.searchCache(); sc != nil {
		cache = sc
	}
	return ingest.NewPipeline(a.documents, a.objects, ingest.NewTextExtractor(), a.chunker, a.embedder, notifier, cache, a.log.Logger)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			a.log.Info("starting datachat API", "version", Version, "port", a.cfg.Server.Port)

			hub := realtime.NewStatusHub(a.log.Logger)
			if err := a.nats.SubscribeStatus(hub.Broadcast); err != nil {
				return fmt.Errorf("failed to subscribe to status events: %w", err)
			}
			a.stop.Register("status-hub", func(ctx context.Context) error {
				hub.Shutdown(ctx)
				return nil
			})

			generator := sqlgen.NewGenerator(a.chain, a.cfg.LLM.MaxTokens, a.log.Logger)
			runner := sqlgen.NewRunner(generator, a.analytic, a.db, a.log.Logger)
			introspector := sqlgen.NewIntrospector(a.datasets, a.datasets, a.log.Logger)
			synthesizer := answer.NewSynthesizer(a.chain, a.cfg.LLM.Temperature, a.cfg.LLM.MaxTokens, a.log.Logger)
			importer := ingest.NewImporter(a.datasets, a.analytic, a.log.Logger)

			health := map[string]handlers.HealthChecker{
				"database":       a.db,
				"analytic":       a.analytic,
				"object_storage": a.objects,
			}
			if a.redis != nil {
				health["redis"] = healthFunc(a.redis.Ping)
			}
			if a.nats != nil {
				health["nats"] = healthFunc(func(ctx context.Context) error {
					if !a.nats.IsConnected() {
						return errors.New("not connected")
					}
					return nil
				})
			}

			routerDeps := api.Dependencies{
				Logger: a.log.Logger,
				Ask: handlers.AskDeps{
					Schema:      introspector,
					Generator:   generator,
					Runner:      runner,
					Searcher:    a.retriever(),
					Synthesizer: synthesizer,
					TopK:        a.cfg.Retrieval.TopK,
				},
				Documents:     a.documents,
				Objects:       a.objects,
				IngestQueue:   a.nats,
				Datasets:      importer,
				DatasetLister: a.datasets,
				Registry:      a.registry,
				Health:        health,
				StatusStream:  hub,
			}
			if a.redis != nil {
				routerDeps.RateLimitStore = a.redis
			}
			if sc := a.searchCache(); sc != nil {
				routerDeps.ResultCache = sc
			}

			router := api.NewRouter(routerDeps, api.DefaultRouterConfig())
			serverCfg := api.DefaultServerConfig()
			serverCfg.Port = a.cfg.Server.Port
			server := api.NewServer(router, serverCfg, a.log.Logger)

			a.stop.Register("http", server.Shutdown)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error("server failed", "error", err)
					os.Exit(1)
				}
			}()

			a.stop.Wait()
			return nil
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the document ingestion worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			a.log.Info("starting ingestion worker", "version", Version)

			pipeline := a.pipeline()
			err = a.nats.ConsumeIngestJobs(ctx, func(ctx context.Context, job realtime.IngestJob) error {
				if err := pipeline.ProcessDocument(ctx, job.DocumentID); err != nil {
					if errors.Is(err, ingest.ErrPermanent) {
						return fmt.Errorf("%w: %w", realtime.ErrTerminalJob, err)
					}
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}

			a.stop.Wait()
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Bulk-load local text files into the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			pipeline := a.pipeline()

			bar := progressbar.NewOptions(len(args),
				progressbar.OptionSetDescription("Ingesting documents"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)

			failures := 0
			for _, path := range args {
				if err := a.ingestFile(ctx, pipeline, path); err != nil {
					a.log.Error("failed to ingest file", "path", path, "error", err)
					failures++
				}
				_ = bar.Add(1)
			}
			fmt.Println()

			a.log.Info("ingestion finished", "total", len(args), "failed", failures)
			if failures > 0 {
				return fmt.Errorf("%d of %d files failed", failures, len(args))
			}
			return nil
		},
	}
	return cmd
}

func newEvalCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "eval <suite.json>",
		Short: "Score document retrieval against a golden query suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}

			suite, err := evaluation.LoadSuite(args[0])
			if err != nil {
				return err
			}

			harness := evaluation.NewHarness(a.retriever(), topK, a.log.Logger)
			run, err := harness.Run(ctx, suite)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(run.Report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 10, "results to retrieve per query")
	return cmd
}

func (a *app) ingestFile(ctx context.Context, pipeline *ingest.Pipeline, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	objectPath := fmt.Sprintf("documents/bulk/%d-%s", time.Now().UnixNano(), name)
	if _, err := a.objects.UploadBytes(ctx, data, objectPath, "text/plain"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	doc, err := a.documents.CreateDocument(ctx, name, objectPath)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return pipeline.ProcessDocument(ctx, doc.ID)
}

// healthFunc adapts a ping function to the health checker interface.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"legalease/internal/api"
	"legalease/internal/config"
	"legalease/internal/logger"
	"legalease/internal/ocr"
	"legalease/internal/pipeline"
	"legalease/internal/redis"
	"legalease/internal/service/ai"
	"legalease/internal/service/assistant"
	"legalease/internal/service/lawyer"
	"legalease/internal/storage"
	"legalease/internal/worker"
)

func main() {
	app := &cli.App{
		Name:  "legalease",
		Usage: "legal document assistant backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the JSON or YAML config file",
				EnvVars: []string{"LEGALEASE_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:      "upload-reference",
				Usage:     "upload the reference document to Gemini and record its file id",
				ArgsUsage: "<path> [display-name]",
				Action:    uploadReference,
			},
			{
				Name:   "migrate",
				Usage:  "create the lawyer table",
				Action: migrate,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, err
	}
	lg, err := logger.New(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, lg, nil
}

func migrate(c *cli.Context) error {
	cfg, lg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer lg.Sync()

	dbType := cfg.BasicConfig.Database
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return err
	}
	lg.Info("lawyer table ready", logger.String("driver", dbType))
	return nil
}

func uploadReference(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: legalease upload-reference <path> [display-name]", 2)
	}
	cfg, lg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer lg.Sync()

	geminiCfg, err := cfg.Provider("gemini")
	if err != nil {
		return err
	}
	backend, err := assistant.NewGeminiBackend(c.Context, geminiCfg)
	if err != nil {
		return err
	}
	resolver := assistant.NewReferenceResolver(backend, assistant.NewFileIDStore(cfg.BasicConfig.FileIDFile), cfg.Reference, lg)
	displayName := c.Args().Get(1)
	if displayName == "" {
		displayName = cfg.Reference.DisplayName
	}
	file, err := resolver.Upload(c.Context, c.Args().First(), displayName)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded file: %s\nSaved fileId: %s\n", file.URI, file.Name)
	return nil
}

func serve(c *cli.Context) error {
	cfg, lg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := cfg.BasicConfig.Database
	lg.Info("opening database", logger.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return err
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer rdb.Close()

	timeout := time.Duration(cfg.BasicConfig.RequestTimeout) * time.Second

	// Document pipeline: OCR, structured summaries and translation.
	extractor := ocr.NewExtractor(
		ocr.NewTesseractRecognizer(cfg.OCR.Languages, cfg.OCR.TessdataDir),
		ocr.NewPopplerRasterizer(cfg.OCR.Pdftoppm, cfg.OCR.PDFScale, cfg.OCR.MaxPages, lg, ocr.WithScratchDir(cfg.ScratchDir())),
		cfg.OCR.Concurrency,
		lg,
	)
	perplexityCfg, err := cfg.Provider("perplexity")
	if err != nil {
		return err
	}
	summarizer := ai.NewSummarizer(ai.NewCompletionClient(perplexityCfg, timeout), perplexityCfg.Model, lg)

	chatProvider := cfg.BasicConfig.ChatProvider
	chatCfg, err := cfg.Provider(chatProvider)
	if err != nil {
		return err
	}
	translateModel, err := ai.NewChatModel(ctx, chatProvider, chatCfg, ai.TranslationModelOptions())
	if err != nil {
		return err
	}
	translator := ai.NewTranslator(ai.NewModelCompleter(translateModel), lg)

	var cache pipeline.Cache = pipeline.NewMemoryCache()
	if rdb != nil {
		cache = pipeline.NewRedisCache(rdb, 0)
	}
	docs := pipeline.NewService(extractor, summarizer, translator, cache, lg)

	chatModel, err := ai.NewChatModel(ctx, chatProvider, chatCfg, ai.ModelOptions{})
	if err != nil {
		return err
	}
	chatCompleter := ai.NewModelCompleter(chatModel)
	if cfg.BasicConfig.ChatTools {
		agent, err := ai.NewToolAgent(ctx, chatModel, docs, lg)
		if err != nil {
			return err
		}
		chatCompleter = ai.NewAgentCompleter(agent)
	}

	// Reference-document Q&A on Gemini.
	geminiCfg, err := cfg.Provider("gemini")
	if err != nil {
		return err
	}
	backend, err := assistant.NewGeminiBackend(ctx, geminiCfg)
	if err != nil {
		return err
	}
	fileIDs := assistant.NewFileIDStore(cfg.BasicConfig.FileIDFile)
	prompts := assistant.NewPromptStore(cfg.BasicConfig.PromptsFile)
	resolver := assistant.NewReferenceResolver(backend, fileIDs, cfg.Reference, lg, assistant.WithResolverRedis(rdb))
	asker := assistant.NewService(backend, resolver, prompts, docs, lg,
		worker.WithQueueLen(cfg.BasicConfig.SessionQueueSize),
		worker.WithRedis(rdb),
	)
	defer asker.Stop()
	if idle := time.Duration(cfg.BasicConfig.SessionIdleTimeout) * time.Minute; idle > 0 {
		asker.Manager().StartIdleSweeper(ctx, idle, idle/2)
	}

	handler := api.NewHandler(api.Deps{
		Pipeline:   docs,
		Processor:  summarizer,
		Translator: translator,
		Chat:       ai.NewChatService(chatCompleter, lg),
		Assistant:  asker,
		Prompts:    prompts,
		FileIDs:    fileIDs,
		Lawyers:    lawyer.NewService(db, dbType, lg),
		ReferenceState: func() string {
			return string(resolver.State())
		},
	}, lg, cfg.BasicConfig.MaxUploadBytes, timeout)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: api.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

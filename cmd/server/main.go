package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/Brownie44l1/sign-api/internal/config"
	"github.com/Brownie44l1/sign-api/internal/handlers"
	"github.com/Brownie44l1/sign-api/internal/history"
	"github.com/Brownie44l1/sign-api/internal/model"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// If running from cmd/server, resolve the model dir from the project root
	if wd, err := os.Getwd(); err == nil && filepath.Base(wd) == "server" && !filepath.IsAbs(cfg.Model.Dir) {
		cfg.Model.Dir = filepath.Join(wd, "../..", cfg.Model.Dir)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			log.Printf("Sentry disabled: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Fatalf("Failed to open history: %v", err)
	}
	defer store.Close()

	modelCfg := cfg.Model
	loader, err := model.NewLoader(model.LoaderOptions{
		Open: func(context.Context) (model.Predictor, error) {
			return model.NewONNXPredictor(model.ONNXOptions{
				ModelPath:         modelCfg.ONNXPath(),
				MetadataPath:      modelCfg.MetadataPath(),
				SharedLibraryPath: modelCfg.SharedLibraryPath,
				Interpolation:     modelCfg.Interpolation,
			})
		},
		FilenameLookup: modelCfg.FilenameLookup,
		CacheSize:      modelCfg.CacheSize,
		Seed:           modelCfg.Seed,
	})
	if err != nil {
		log.Fatalf("Failed to initialize model loader: %v", err)
	}
	defer loader.Close()

	log.Printf("Loading model from: %s", modelCfg.ONNXPath())
	status := loader.Load(context.Background())

	handler := handlers.NewHandler(loader, store, handlers.Options{
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		ProcessingDelay: cfg.Upload.ProcessingDelay,
		AudioURL:        cfg.Upload.AudioURL,
		TFJSDir:         modelCfg.TFJSDir(),
		HistoryLimit:    cfg.History.Limit,
	})

	var limiter *rate.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.Routes(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	log.Printf("Model status: %s", status)
	log.Printf("Classes: %v", loader.Snapshot().Classes)
	log.Println("Endpoints:")
	for _, e := range handlers.Endpoints {
		log.Printf("  %-4s %-24s - %s", e.Method, e.Path, e.Description)
	}
	log.Printf("Upload test: curl -X POST -F \"image=@sign_a.jpg\" http://localhost:%s/predict/image", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

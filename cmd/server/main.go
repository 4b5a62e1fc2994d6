package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soaringjerry/Quill/internal/api"
	"github.com/soaringjerry/Quill/internal/config"
	"github.com/soaringjerry/Quill/internal/db"
	"github.com/soaringjerry/Quill/internal/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("store close: %v", err)
		}
	}()
	if err := SeedIfEmpty(ctx, store, cfg.SeedPath, cfg.Location); err != nil {
		log.Fatalf("seed: %v", err)
	}

	authn := middleware.NewAuthenticator(cfg.JWTSecret)
	mux := http.NewServeMux()
	api.NewRouter(store, api.Options{
		SingleActive: cfg.SingleActive,
		Location:     cfg.Location,
		Signer:       authn.SignToken,
		TokenTTL:     cfg.TokenTTL,
	}).Register(mux)
	registerMeta(mux, cfg)
	registerFrontend(mux, cfg)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	if err := limiter.TrustProxies(cfg.TrustedProxies); err != nil {
		log.Fatalf("QUILL_TRUSTED_PROXIES: %v", err)
	}
	go limiter.Cleanup(ctx, 10*time.Minute)

	// first listed runs outermost
	handler := middleware.Chain(mux,
		middleware.RequestLog,
		middleware.SecureHeaders,
		middleware.CORS(cfg.CORSOrigins),
		middleware.NoStore,
		limiter.Middleware,
		authn.WithAuth,
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Printf("Quill server listening on %s (store=%s, single_active=%v, tz=%s)", cfg.Addr, cfg.Store, cfg.SingleActive, cfg.Location)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (api.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return api.NewMemoryStoreFromPath(cfg.MemorySnapshot)
	case config.StoreMongo:
		return db.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	case config.StoreSQLite:
		return db.OpenSQLite(cfg.SQLitePath, cfg.MigrationsDir)
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func registerMeta(mux *http.ServeMux, cfg *config.Config) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Quill API",
			"store":      cfg.Store,
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
}

// Frontend serving strategy (priority):
// 1) Static files if QUILL_STATIC_DIR is set
// 2) Dev proxy if QUILL_DEV_FRONTEND_URL is set
func registerFrontend(mux *http.ServeMux, cfg *config.Config) {
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
		return
	}
	if cfg.DevFrontendURL == "" {
		return
	}
	u, err := url.Parse(cfg.DevFrontendURL)
	if err != nil {
		log.Printf("invalid QUILL_DEV_FRONTEND_URL=%q: %v", cfg.DevFrontendURL, err)
		return
	}
	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ModifyResponse = func(res *http.Response) error {
		res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		res.Header.Set("Pragma", "no-cache")
		res.Header.Set("Expires", "0")
		return nil
	}
	mux.Handle("/", rp)
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindloom/api/internal/app"
	"mindloom/api/internal/auth"
	"mindloom/api/internal/authpw"
	"mindloom/api/internal/blob"
	"mindloom/api/internal/config"
	"mindloom/api/internal/export"
	"mindloom/api/internal/ocr"
	"mindloom/api/internal/search"
	"mindloom/api/internal/session"
	"mindloom/api/internal/snapshot"
	"mindloom/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	pg := store.NewPostgres(db)

	// Refresh sessions go to Redis when configured; Postgres carries
	// them otherwise.
	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	} = pg
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("session: %v", err)
		}
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			log.Printf("session: redis unreachable, falling back to postgres: %v", err)
		} else {
			sessions = rs
		}
	}

	snapshots, err := snapshot.NewService(cfg.SnapshotsDir)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
	}
	searchSvc := search.NewService(meili, search.NewPgFTS(db))
	if meili != nil && meili.Healthy() {
		go reindex(ctx, pg, searchSvc)
	}

	var images *blob.Store
	if cfg.MinioEndpoint != "" {
		images, err = blob.NewStore(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("blob: %v", err)
		}
		if err := images.EnsureBucket(ctx); err != nil {
			log.Printf("blob: bucket unavailable, image archiving disabled: %v", err)
			images = nil
		}
	}

	var ocrClient *ocr.Client
	if cfg.OCRServiceURL != "" {
		ocrClient = ocr.NewClient(cfg.OCRServiceURL)
	}

	svcCfg := app.ServiceConfig{
		Store:      pg,
		Sessions:   sessions,
		Passwords:  authpw.NewService(pg, cfg.DemoUsername),
		Tokens:     auth.NewTokenService(cfg.JWTSecret, cfg.AccessTTL),
		RefreshTTL: cfg.RefreshTTL,
		Snapshots:  snapshots,
		Search:     searchSvc,
		Exporter:   export.NewService(),
	}
	if ocrClient != nil {
		svcCfg.OCR = ocrClient
	}
	if images != nil {
		svcCfg.Images = images
	}

	server := app.NewServer(app.NewService(svcCfg), cfg.CORSOrigin)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
		os.Exit(1)
	}
}

// reindex pushes the whole corpus into Meilisearch so search survives
// index loss.
func reindex(ctx context.Context, pg *store.Postgres, svc *search.Service) {
	maps, err := pg.ListAllMindMaps(ctx)
	if err != nil {
		log.Printf("search: reindex load: %v", err)
		return
	}
	docs := make([]search.Document, 0, len(maps))
	for _, m := range maps {
		docs = append(docs, search.DocumentFromMindMap(m))
	}
	svc.Reindex(docs)
}

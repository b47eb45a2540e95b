package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/api"
	"github.com/sells-group/fieldnotes/internal/capture"
	"github.com/sells-group/fieldnotes/internal/config"
	"github.com/sells-group/fieldnotes/internal/geolocate"
	"github.com/sells-group/fieldnotes/internal/mapcanvas"
	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/objectstore"
	"github.com/sells-group/fieldnotes/internal/store"
	"github.com/sells-group/fieldnotes/internal/workspace"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the map workspace API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openVerifiedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mc, err := metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return eris.Wrap(err, "init metrics")
		}

		bucket, err := objectstore.NewS3(ctx, objectstore.Config{
			Bucket:        cfg.Storage.Bucket,
			Endpoint:      cfg.Storage.Endpoint,
			Region:        cfg.Storage.Region,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			UseSSL:        cfg.Storage.UseSSL,
			UsePathStyle:  cfg.Storage.UsePathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			CacheControl:  cfg.Storage.CacheControl,
		})
		if err != nil {
			return eris.Wrap(err, "init photo storage")
		}

		catalog, err := mapcanvas.LoadCatalog(cfg.Map.LayersFile)
		if err != nil {
			return eris.Wrap(err, "load base layers")
		}

		mgr := workspace.NewManager(workspace.Deps{
			Store:              st,
			Photos:             capture.NewPhotoUploader(bucket, mc, cfg.Capture.MaxPhotoBytes),
			Resolver:           newResolver(cfg),
			Registry:           mapcanvas.NewRegistry(),
			View:               viewOptions(cfg, catalog),
			Metrics:            mc,
			TTL:                cfg.Workspace.SessionTTL(),
			UploadConcurrency:  cfg.Capture.MaxConcurrentUploads,
			AutoCancelOnSwitch: cfg.Workspace.AutoCancelOnSwitch,
		})
		go mgr.Run(ctx)

		srv := api.New(mgr, newTileProxy(cfg, catalog, mc), mc, api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxPhotoBytes:  cfg.Capture.MaxPhotoBytes,
			Health:         healthCheck(st),
		})

		zap.L().Info("starting server",
			zap.String("store", cfg.Store.Driver),
			zap.String("geolocation", cfg.Geolocation.Provider),
		)
		return startServer(ctx, srv.Router(), resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("listening", zap.Int("port", port))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func newResolver(c *config.Config) *geolocate.Resolver {
	fallback := model.Coordinate{Latitude: c.Map.DefaultLat, Longitude: c.Map.DefaultLng}
	return geolocate.NewResolverForMode(c.Geolocation.Provider, fallback,
		geolocate.WithLookupURL(c.Geolocation.IPLookupURL),
		geolocate.WithRateLimit(c.Geolocation.RateLimit),
		geolocate.WithHTTPClient(&http.Client{Timeout: time.Duration(c.Geolocation.TimeoutSecs) * time.Second}),
	)
}

func viewOptions(c *config.Config, catalog mapcanvas.Catalog) mapcanvas.ViewOptions {
	return mapcanvas.ViewOptions{
		Zoom:    c.Map.InitialZoom,
		MinZoom: c.Map.MinZoom,
		MaxZoom: c.Map.MaxZoom,
		Catalog: catalog,
	}
}

func newTileProxy(c *config.Config, catalog mapcanvas.Catalog, mc *metrics.Collector) *mapcanvas.TileProxy {
	return mapcanvas.NewTileProxy(catalog,
		mapcanvas.WithTileHTTPClient(&http.Client{Timeout: time.Duration(c.Map.TileTimeoutSecs) * time.Second}),
		mapcanvas.WithTileCache(mapcanvas.NewTileCache(c.Map.TileCacheSize, time.Duration(c.Map.TileCacheTTLMin)*time.Minute)),
		mapcanvas.WithTileMetrics(mc),
	)
}

// healthCheck returns the Postgres pool for /health; SQLite has nothing
// worth pinging.
func healthCheck(st store.Store) api.Pinger {
	if pg, ok := st.(*store.PostgresStore); ok {
		return pg.Pool()
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

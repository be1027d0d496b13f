// Command shvdevice runs a demo device: a few value nodes and an ACL node, served
// over the framed protocol, with Prometheus metrics on a separate HTTP listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"shvattr/aclnode"
	"shvattr/config"
	"shvattr/middleware"
	"shvattr/registry"
	"shvattr/server"
	"shvattr/value"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shvdevice: %v\n", err)
		os.Exit(2)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shvdevice: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("device failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	svr := server.NewServer(cfg.Device)
	svr.Use(middleware.LoggingMiddleware(logger))
	svr.Use(middleware.MetricsMiddleware())
	svr.Use(middleware.RateLimitMiddleware(200, 50))
	svr.Use(middleware.TimeOutMiddleware(cfg.CallTimeout))

	if err := svr.Register("demo/temperature", newProperty(value.Double(21.5))); err != nil {
		return err
	}
	if err := svr.Register("demo/setpoint", newProperty(value.Map{"low": value.Double(18), "high": value.Double(24)})); err != nil {
		return err
	}
	if err := svr.Register("demo/log", &journal{lines: 200}); err != nil {
		return err
	}
	acl := aclnode.New()
	seedACL(acl)
	if err := acl.Mount(svr, cfg.ACLPath); err != nil {
		return err
	}

	var reg registry.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}

	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: httpRouter(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.Serve("tcp", cfg.ListenAddr, cfg.Addr, reg)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-errCh:
		return err
	}

	if metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		metrics.Shutdown(ctx)
	}
	return svr.Shutdown(shutdownTimeout)
}

func httpRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

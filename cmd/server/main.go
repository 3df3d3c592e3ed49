// Command agentproof-server serves the proof-of-agency HTTP API and the verification gRPC service.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/agentproof/internal/config"
	grpcserver "github.com/and161185/agentproof/internal/server/grpc"
	httpserver "github.com/and161185/agentproof/internal/server/http"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires storage and services, and serves HTTP and gRPC until signalled.
func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.Stringer("config", cfg),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	errCh := make(chan error, 2)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		if !cfg.Dev {
			gin.SetMode(gin.ReleaseMode)
		}
		h, err := httpserver.New(httpserver.Deps{
			Challenges:     a.challenges,
			Platforms:      a.gate,
			Log:            logger.Named("http"),
			BaseURL:        cfg.BaseURL,
			TrustedProxies: cfg.TrustedProxies,
		})
		if err != nil {
			logger.Fatal("http server", zap.Error(err))
		}
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		opts := []grpc.ServerOption{
			grpc.ChainUnaryInterceptor(
				grpcserver.RecoverUnary(logger),
				grpcserver.APIKeyUnary(a.gate),
				grpcserver.LoggingUnary(logger),
			),
		}
		if cfg.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				logger.Fatal("failed to load TLS cert/key", zap.Error(err))
			}
			opts = append(opts, grpc.Creds(creds))
		}
		grpcSrv = grpc.NewServer(opts...)
		grpcserver.RegisterVerifierServer(grpcSrv, grpcserver.New(a.gate, logger.Named("grpc")))

		// Health & reflection (dev)
		hs := health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, hs)
		if cfg.Dev {
			reflection.Register(grpcSrv)
		}

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		shutdown(httpSrv, grpcSrv, cfg.ShutdownTimeout, logger)
		a.Close()
		os.Exit(1)
	}

	shutdown(httpSrv, grpcSrv, cfg.ShutdownTimeout, logger)
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// shutdown drains both servers, forcing the gRPC server down once timeout passes.
func shutdown(httpSrv *http.Server, grpcSrv *grpc.Server, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
}

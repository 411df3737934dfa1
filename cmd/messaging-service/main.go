package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"

	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/infra/config"
	"campusmarket/internal/infra/db/scylla"
	"campusmarket/internal/infra/obs"
	"campusmarket/internal/infra/rpc"
	"campusmarket/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		obs.NewLogger("dev").Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.LoadMessaging()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	var store messaging.Repository
	// MESSAGING_STORE=memory runs without Scylla for local development
	if strings.EqualFold(os.Getenv("MESSAGING_STORE"), "memory") {
		logger.Warn("messaging store kept in memory, data is lost on restart")
		store = memory.NewMessagingStore()
	} else {
		session, err := scylla.NewSession(ctx, cfg, logger)
		if err != nil {
			logger.Error("scylla init failed", "error", err)
			os.Exit(1)
		}
		defer session.Close()
		store = scylla.NewStore(session, logger)
	}

	grpcServer := rpc.NewServer(store, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen", "error", err, "addr", cfg.GRPCAddr)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down grpc server")
		grpcServer.GracefulStop()
	}()

	logger.Info("messaging-service starting", "addr", cfg.GRPCAddr, "env", cfg.Env)
	if err := grpcServer.Serve(lis); err != nil {
		if errors.Is(err, grpc.ErrServerStopped) {
			logger.Info("grpc server stopped")
			return
		}
		logger.Error("grpc server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("messaging-service stopped")
}

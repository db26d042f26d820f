package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/grpcserver"
	"google.golang.org/grpc"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, finder grpcserver.SlotFinder) error {
	port, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpcx.ServerOptions(logger)...)
	health := grpcserver.Register(srv, finder)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		health.Shutdown()
		srv.GracefulStop()
	}()

	return nil
}

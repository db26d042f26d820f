package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/grpcserver"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/slots"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newRootCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:          "slotctl",
		Short:        "Query a booking-service over gRPC and mint local admin tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", config.String("BOOKING_GRPC_ADDR", "localhost:9093"), "booking-service gRPC address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "dial and call timeout")

	root.AddCommand(newSlotsCmd(&addr, &timeout))
	root.AddCommand(newHealthCmd(&addr, &timeout))
	root.AddCommand(newTokenCmd())
	return root
}

func newSlotsCmd(addr *string, timeout *time.Duration) *cobra.Command {
	var (
		q    slots.Query
		date string
	)
	c := &cobra.Command{
		Use:   "slots",
		Short: "List free slots for a staff member, variant and date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := availability.ParseDate(date)
			if err != nil {
				return errors.New("invalid --date (want YYYY-MM-DD)")
			}
			q.Date = d

			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			conn, err := grpcx.Dial(ctx, *addr, grpcx.DialOptions{Timeout: *timeout})
			if err != nil {
				return fmt.Errorf("dial %s: %w", *addr, err)
			}
			defer func() { _ = conn.Close() }()

			found, err := grpcserver.ListSlots(ctx, conn, q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(out, "no free slots")
				return nil
			}
			for _, s := range found {
				fmt.Fprintf(out, "%s  %s\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
			}
			return nil
		},
	}
	c.Flags().StringVar(&q.BusinessID, "business-id", "", "business id")
	c.Flags().StringVar(&q.StaffID, "staff-id", "", "staff id")
	c.Flags().StringVar(&q.VariantID, "variant-id", "", "service variant id")
	c.Flags().StringVar(&date, "date", "", "calendar date in the business timezone (YYYY-MM-DD)")
	c.Flags().IntVar(&q.StepMinutes, "step", 0, "override the business slot step in minutes")
	_ = c.MarkFlagRequired("business-id")
	_ = c.MarkFlagRequired("staff-id")
	_ = c.MarkFlagRequired("variant-id")
	_ = c.MarkFlagRequired("date")
	return c
}

func newHealthCmd(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the slot service health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			conn, err := grpcx.Dial(ctx, *addr, grpcx.DialOptions{Timeout: *timeout})
			if err != nil {
				return fmt.Errorf("dial %s: %w", *addr, err)
			}
			defer func() { _ = conn.Close() }()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return errors.New("slot service is not serving")
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject    string
		businessID string
		role       string
		ttl        time.Duration
	)
	c := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 admin token with JWT_SECRET for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := config.RequiredString("JWT_SECRET")
			if err != nil {
				return err
			}
			token, err := auth.SignHS256(auth.NewClaims(subject, businessID, role, ttl), secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	c.Flags().StringVar(&subject, "subject", "slotctl", "token subject")
	c.Flags().StringVar(&businessID, "business-id", "", "business id the token is scoped to")
	c.Flags().StringVar(&role, "role", "owner", "role claim (owner or staff)")
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = c.MarkFlagRequired("business-id")
	return c
}

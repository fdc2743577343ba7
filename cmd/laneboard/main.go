package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laneboard/laneboard/internal/profile"
	"github.com/laneboard/laneboard/server"
	"github.com/laneboard/laneboard/internal/observability"
)

var version = "0.1.0"

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "laneboard",
	Short: "Caching backend for project-management dashboards",
	RunE: func(_ *cobra.Command, _ []string) error {
		prof := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Version: version,
		}
		prof.FromEnv()
		if err := prof.Validate(); err != nil {
			return err
		}

		logger := observability.NewLogger(prof.Mode)
		logger.Info("starting laneboard", "profile", prof.String(), "version", version)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.NewServer(ctx, prof, logger)
		if err != nil {
			return err
		}

		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case err := <-errChan:
			if err != nil {
				logger.Error("server failed", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `server mode, "dev" or "prod"`)
	rootCmd.PersistentFlags().String("addr", "", "binding address")
	rootCmd.PersistentFlags().Int("port", 8230, "binding port")
	rootCmd.PersistentFlags().String("data", "", "data directory")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("laneboard")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

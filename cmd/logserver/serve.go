package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coffersTech/logserver/internal/collector"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector that receives uploads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := a.cfg.Collector
			if addr != "" {
				cc.Addr = addr
			}
			srv, err := collector.New(collector.Config{
				Addr:            cc.Addr,
				DataDir:         cc.DataDir,
				APIKeyHashes:    cc.APIKeyHashes,
				Retention:       cc.Retention,
				FlushInterval:   cc.FlushInterval,
				CleanInterval:   cc.CleanInterval,
				RateLimit:       cc.RateLimit,
				RateBurst:       cc.RateBurst,
				InstanceTimeout: cc.InstanceTimeout,
				MaxBodyBytes:    int64(cc.MaxBodyMB) << 20,
				Logger:          a.log,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(ctx) }()

			select {
			case err := <-errc:
				if err != nil {
					_ = srv.Shutdown(context.Background())
					return err
				}
			case <-ctx.Done():
				a.log.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.log.Info("collector exited gracefully")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides collector.addr)")
	return cmd
}

func newHashKeyCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the bcrypt hash of an API key for collector.api_key_hashes",
		Long: `Print the bcrypt hash of an API key. Without an argument a new random
key is generated and printed together with its hash.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				b := make([]byte, 16)
				if _, err := rand.Read(b); err != nil {
					return err
				}
				key = "sk-" + hex.EncodeToString(b)
				fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\n", key)
			}
			hash, err := collector.HashKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash: %s\n", hash)
			return nil
		},
	}
}

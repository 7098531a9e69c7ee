package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"restaurant-voice/internal/auth"
	"restaurant-voice/internal/cache"
	"restaurant-voice/internal/calls"
	"restaurant-voice/internal/config"
	"restaurant-voice/internal/reconcile"
	"restaurant-voice/internal/telephony"
	"restaurant-voice/internal/tenant"
	"restaurant-voice/internal/webhook"
	"restaurant-voice/pkg/logger"
	"restaurant-voice/pkg/utils"
)

type configLoader func() (config.Config, error)

func newRootCmd(load configLoader, out io.Writer) *cobra.Command {
	var apiURL string
	root := &cobra.Command{
		Use:           "callctl",
		Short:         "Operator tooling for the restaurant voice backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&apiURL, "api", "a", "http://localhost:8080", "API base URL (invalidate only)")

	root.AddCommand(
		reconcileCmd(load, out),
		mapPhoneCmd(load, out),
		tokenCmd(load, out),
		invalidateCmd(load, &apiURL, out),
	)
	return root
}

// reconcileCmd fetches and stores one call now, skipping the scheduler delay.
// It is the manual recovery path for fetches lost to a restart.
func reconcileCmd(load configLoader, out io.Writer) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile CALL_ID",
		Short: "Fetch a call from the vendor and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.App.Env, cfg.App.LogLevel)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2}, utils.ConnectRetry{Logger: log})
			if err != nil {
				return err
			}
			defer db.Close()

			phones := openCache(ctx, cfg, log)
			defer phones.Close()

			fetcher := reconcile.NewFetcher(
				telephony.NewVapiClient(telephony.VapiClientConfig{BaseURL: cfg.Vapi.BaseURL, APIKey: cfg.Vapi.APIKey, Timeout: cfg.Vapi.Timeout}),
				phones,
				tenant.NewResolver(tenant.NewPostgresStore(db), tenant.DefaultLookupTimeout, log),
				calls.NewPostgresRepository(db),
				log,
			)
			res, err := fetcher.FetchAndStore(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", args[0], err)
			}
			return writeJSON(out, res)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Minute, "Overall timeout")
	return cmd
}

// openCache reaches the shared phone associations when redis is configured.
func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) *cache.Manager {
	opts := cache.Options{OpTimeout: cfg.Cache.OpTimeout, Logger: log}
	if cfg.Redis.URL != "" {
		redisCfg := utils.RedisConfig{URL: cfg.Redis.URL}
		rdb, err := utils.NewRedisClient(redisCfg)
		if err != nil {
			log.Warn("invalid redis url, phone associations will be empty", "err", err)
			return cache.NewManager(opts)
		}
		if err := utils.PingRedis(ctx, rdb, redisCfg, utils.ConnectRetry{Logger: log, MaxElapsedTime: 5 * time.Second}); err != nil {
			log.Warn("redis unreachable, phone associations will be empty", "err", err)
		}
		opts.Remote = cache.NewRedisStore(rdb)
	}
	return cache.NewManager(opts)
}

func mapPhoneCmd(load configLoader, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "map-phone PHONE RESTAURANT_ID",
		Short: "Point a dialed number at a restaurant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.App.Env, cfg.App.LogLevel)
			db, err := utils.OpenPostgres(cmd.Context(), "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 1}, utils.ConnectRetry{Logger: log})
			if err != nil {
				return err
			}
			defer db.Close()

			r := tenant.NewResolver(tenant.NewPostgresStore(db), tenant.DefaultLookupTimeout, log)
			if err := r.Map(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return writeJSON(out, map[string]string{"phone_number": tenant.NormalizePhone(args[0]), "restaurant_id": args[1]})
		},
	}
}

func tokenCmd(load configLoader, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "token USER_ID RESTAURANT_ID ROLE",
		Short: "Issue an access token for the /v1 API",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, tok)
			return err
		},
	}
}

func invalidateCmd(load configLoader, apiURL *string, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate RESTAURANT_ID [CATEGORY]",
		Short: "Drop cached knowledge results through the running API",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			body := map[string]string{"restaurant_id": args[0]}
			if len(args) == 2 {
				body["category"] = args[1]
			}
			var result map[string]any
			resp, err := resty.New().
				SetBaseURL(*apiURL).
				SetTimeout(10*time.Second).
				R().
				SetContext(cmd.Context()).
				SetHeader(webhook.HeaderSecret, cfg.Vapi.SecretKey).
				SetBody(body).
				SetResult(&result).
				Post("/vapi/cache/invalidate")
			if err != nil {
				return fmt.Errorf("invalidate: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("invalidate: status %d: %s", resp.StatusCode(), resp.String())
			}
			return writeJSON(out, result)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

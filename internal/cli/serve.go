package cli

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portagehq/portage/internal/auth"
	"github.com/portagehq/portage/internal/config"
	"github.com/portagehq/portage/internal/httpclient"
	"github.com/portagehq/portage/internal/logging"
	"github.com/portagehq/portage/internal/metrics"
	"github.com/portagehq/portage/internal/notify"
	"github.com/portagehq/portage/internal/provider"
	_ "github.com/portagehq/portage/internal/providers" // register storage adapters
	"github.com/portagehq/portage/internal/ratelimit"
	"github.com/portagehq/portage/internal/server"
	"github.com/portagehq/portage/internal/streams"
	"github.com/portagehq/portage/internal/transfer"
	"github.com/portagehq/portage/internal/version"
)

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
		jsonLogs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storage gateway",
		Long: `Start the gateway and serve the v1 API until interrupted.

Configuration is read from portage.yaml (current directory or $HOME),
overridden by PORTAGE_* environment variables. Every setting has a
default, so a bare "portage serve" exposes the configured providers on
` + config.DefaultAddr + `.

Examples:
  # Serve with defaults
  portage serve

  # Explicit config file and listen address
  portage serve -c /etc/portage/portage.yaml --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			if verbose {
				level = "debug"
			}
			if cmd.Flags().Changed("json-logs") {
				cfg.Logging.JSON = jsonLogs
			}
			logging.Setup(level, cfg.Logging.JSON)

			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log lines instead of console output")

	return cmd
}

// runServe assembles the gateway from configuration and blocks until the
// command context is cancelled or the listener fails.
func runServe(cmd *cobra.Command, cfg *config.Config) error {
	streams.SetCopyBufferSize(cfg.Transfer.ChunkSize)

	clientOpts := httpclient.Options{
		ProxyMode:     cfg.Proxy.Mode,
		ProxyHost:     cfg.Proxy.Host,
		ProxyPort:     cfg.Proxy.Port,
		ProxyUser:     cfg.Proxy.User,
		ProxyPassword: cfg.Proxy.Password,
		NoProxy:       cfg.Proxy.NoProxy,
	}
	dataClient, err := httpclient.New(clientOpts)
	if err != nil {
		return fmt.Errorf("build outbound client: %w", err)
	}
	ctrlClient, err := httpclient.NewRetrying(clientOpts)
	if err != nil {
		return fmt.Errorf("build control-plane client: %w", err)
	}
	provider.SetHTTPClient(dataClient)

	authHandler, err := buildAuth(cfg, ctrlClient)
	if err != nil {
		return err
	}

	limiter, closeStore, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Remote grants may name a per-resource callback even when no global
	// notification URL is configured, so remote mode always gets a webhook.
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.URL != "" || cfg.Auth.Mode == "remote" {
		webhook := notify.NewWebhook(notify.WebhookOptions{
			URL:     cfg.Notify.URL,
			Client:  ctrlClient,
			Timeout: cfg.Notify.Timeout,
		})
		defer webhook.Close()
		notifier = webhook
	}

	opts := server.Options{
		BaseURL:        cfg.Server.BaseURL,
		RequestTimeout: cfg.Server.RequestTimeout,
		Auth:           authHandler,
		Limiter:        limiter,
		Notifier:       notifier,
	}
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		opts.Metrics = prom
		opts.MetricsHandler = prom.Handler()
	}
	opts.Engine = transfer.New(transfer.Options{
		InactivityTimeout: cfg.Transfer.InactivityTimeout,
		Metrics:           opts.Metrics,
	})

	log.Info().
		Str("version", version.Version).
		Str("addr", cfg.Server.Addr).
		Str("auth", cfg.Auth.Mode).
		Strs("providers", provider.Names()).
		Bool("metrics", cfg.Metrics.Enabled).
		Bool("ratelimit", cfg.RateLimit.Enabled).
		Msg("starting portage")

	return server.New(opts).Run(cmd.Context(), cfg.Server.Addr)
}

// buildAuth constructs the authorization handler named by auth.mode.
func buildAuth(cfg *config.Config, client *http.Client) (auth.Handler, error) {
	switch cfg.Auth.Mode {
	case "remote":
		return auth.NewRemote(auth.RemoteOptions{
			URL:     cfg.Auth.URL,
			Client:  client,
			Timeout: cfg.Auth.Timeout,
		})
	default:
		providers := make(map[string]auth.StaticProvider, len(cfg.Auth.Static.Providers))
		for name, sp := range cfg.Auth.Static.Providers {
			providers[name] = auth.StaticProvider{
				Credentials: sp.Credentials,
				Settings:    sp.Settings,
			}
		}
		identity := auth.Identity{
			ID:    cfg.Auth.Static.Identity.ID,
			Name:  cfg.Auth.Static.Identity.Name,
			Email: cfg.Auth.Static.Identity.Email,
		}
		return auth.NewStatic(cfg.Auth.Static.Token, identity, providers), nil
	}
}

// buildLimiter constructs the rate limiter and returns a cleanup for its
// store. A disabled limiter needs no store at all.
func buildLimiter(cfg *config.Config) (*ratelimit.Limiter, func(), error) {
	noop := func() {}
	if !cfg.RateLimit.Enabled {
		return nil, noop, nil
	}

	var store ratelimit.Store
	cleanup := noop
	switch cfg.RateLimit.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		store = ratelimit.NewRedisStore(client)
		cleanup = func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis client")
			}
		}
	default:
		store = ratelimit.NewMemoryStore()
	}

	return ratelimit.New(ratelimit.Options{
		Enabled:    true,
		Limit:      cfg.RateLimit.Limit,
		Window:     cfg.RateLimit.Window,
		CookieName: cfg.RateLimit.CookieName,
		Store:      store,
	}), cleanup, nil
}

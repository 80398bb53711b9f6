package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekeepd/gatekeep/internal/cache"
	"github.com/gatekeepd/gatekeep/internal/server"
	"github.com/gatekeepd/gatekeep/internal/service"
)

const banner = `
  ___   _ _____ ___ _  _____ ___ ___
 / __| /_\_   _| __| |/ / __| __| _ \
| (_ |/ _ \| | | _|| ' <| _|| _||  _/
 \___/_/ \_\_| |___|_|\_\___|___|_|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long:  "Start the HTTP server that issues and resolves game-server sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Durable credential store.
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	logger.Info("credential store initialized", "driver", viper.GetString("store.driver"))

	// 2. Session cache. Without a Redis address the gateway runs in pure
	// durable-fallback mode; every resolve hits the store.
	var sessionCache cache.SessionCache
	if addr := viper.GetString("cache.redis_addr"); addr != "" {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		rc, err := cache.NewRedis(pingCtx, addr, viper.GetString("cache.redis_password"), viper.GetInt("cache.redis_db"))
		cancel()
		if err != nil {
			logger.Warn("session cache unreachable at startup, continuing without it", "addr", addr, "error", err)
			sessionCache = cache.Nop{}
		} else {
			logger.Info("session cache connected", "addr", addr)
			sessionCache = rc
		}
	} else {
		sessionCache = cache.Nop{}
		logger.Warn("no cache.redis_addr configured, running without a session cache")
	}

	// 3. Domain services.
	sessCfg := service.DefaultSessionConfig()
	if ttl := viper.GetDuration("auth.session_ttl"); ttl > 0 {
		sessCfg.SessionTTL = ttl
	}
	if d := viper.GetDuration("store.timeout"); d > 0 {
		sessCfg.StoreTimeout = d
	}
	if d := viper.GetDuration("cache.timeout"); d > 0 {
		sessCfg.CacheTimeout = d
	}
	sessions := service.NewSessionService(st, sessionCache, sessCfg, logger)

	bufSize := viper.GetInt("usage.buffer_size")
	if bufSize <= 0 {
		bufSize = 1024
	}
	usage := service.NewUsageService(st, sessions, bufSize, logger)

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "gatekeep-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using the development default")
	}
	jwtExpiry := viper.GetDuration("auth.jwt_expiry")
	authSvc := service.NewAuthService(st, jwtSecret, jwtExpiry, logger)

	// 4. Background sweeper for expired durable sessions.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sessions.RunSweeper(sweepCtx, 5*time.Minute)

	// 5. HTTP server.
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.Version = versionString()
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if d := viper.GetDuration("server.shutdown_timeout"); d > 0 {
		srvCfg.ShutdownTimeout = d
	}
	if n := viper.GetInt("ratelimit.validate_per_minute"); n > 0 {
		srvCfg.ValidatePerMinute = n
	}

	srv := server.New(srvCfg, st, sessionCache, sessions, usage, authSvc, logger)

	fmt.Printf("→ Gatekeep %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/health\n", host, port)
	fmt.Println()

	// Server shutdown closes the usage dispatcher, the cache, and the store.
	return srv.ListenAndServe()
}

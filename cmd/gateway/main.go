// Command gateway is the Aussie Gateway entrypoint: it loads configuration,
// wires the registry/ratelimit/auth/transport/pipeline packages together,
// serves HTTP (plain requests and WebSocket upgrades share one listener),
// and drains in place on SIGTERM/SIGINT.
//
// Grounded on the teacher's cmd/gateway/main.go (flag parsing, config-then-
// server-construction shape) and cmd/ingress/main.go (errgroup-coordinated
// run loop, signal.NotifyContext, systemd sd_notify), since the teacher's
// own gateway binary predates its config hot-reload and graceful-drain
// support that this gateway's spec requires.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aussiegw/gateway/internal/auth"
	"github.com/aussiegw/gateway/internal/config"
	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/forwarding"
	"github.com/aussiegw/gateway/internal/logging"
	"github.com/aussiegw/gateway/internal/memstore"
	"github.com/aussiegw/gateway/internal/metrics"
	"github.com/aussiegw/gateway/internal/pipeline"
	"github.com/aussiegw/gateway/internal/ports"
	"github.com/aussiegw/gateway/internal/prepare"
	"github.com/aussiegw/gateway/internal/ratelimit"
	"github.com/aussiegw/gateway/internal/registry"
	"github.com/aussiegw/gateway/internal/tracing"
	"github.com/aussiegw/gateway/internal/transport"
	"github.com/aussiegw/gateway/internal/trustedproxy"
	"github.com/aussiegw/gateway/internal/wsproxy"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Aussie Gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	bootstrapLogger, _ := zap.NewProduction()
	watcher, err := config.NewWatcher(*configPath, bootstrapLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := watcher.GetConfig()

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if logCloser != nil {
		defer logCloser.Close()
	}
	logging.SetGlobal(logger)
	logging.Info("starting aussie gateway", zap.String("version", version), zap.String("config", *configPath))

	promReg := prometheus.NewRegistry()
	collector := metrics.New(promReg)

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		logging.Error("failed to initialize tracer", zap.Error(err))
		os.Exit(1)
	}
	defer tracer.Close()

	signingKeyring, err := loadSigningKeyring(cfg.Auth)
	if err != nil {
		logging.Error("failed to load signing keyring", zap.Error(err))
		os.Exit(1)
	}
	minter := auth.NewMinter(signingKeyring, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	apiKeys := memstore.NewAPIKeyStore()
	sessions := memstore.NewSessionStore()
	roles := memstore.NewRoleStore(nil)
	groups := memstore.NewGroupStore(nil)

	validators := []ports.TokenValidator{
		auth.NewSessionValidator(sessions),
		auth.NewAPIKeyValidator(apiKeys),
		auth.NewJWTValidator(auth.NewStaticKeyring(signingKeyring), cfg.Auth.Issuer, cfg.Auth.Audience),
	}
	if cfg.Auth.JWKSURL != "" {
		jwksCtx, jwksCancel := context.WithTimeout(context.Background(), 30*time.Second)
		jwksValidator, err := auth.NewJWKSValidator(jwksCtx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWKSRefresh)
		jwksCancel()
		if err != nil {
			logging.Error("failed to initialize JWKS validator, continuing without it", zap.Error(err))
		} else {
			validators = append(validators, jwksValidator)
		}
	}
	evaluator := auth.NewEvaluator(validators, roles, groups)

	services := memstore.NewServiceStore()
	reg, err := registry.New(services, nil, registry.Options{
		RefreshInterval: cfg.Cache.LocalTTL,
		MaxLocalEntries: cfg.Cache.LocalMaxEntries,
		Logger:          logging.RegistryLogger{L: logger},
	})
	if err != nil {
		logging.Error("failed to initialize registry", zap.Error(err))
		os.Exit(1)
	}
	reg.Start()
	defer reg.Stop()

	rateLimiter := ratelimit.NewEngine(buildRateLimiterBackend(cfg.RateLimiting), platformRateLimit(cfg.RateLimiting), cfg.RateLimiting.Enabled)
	wsBackend := ratelimit.NewMemoryBackend(time.Hour)
	var connLimiter, msgLimiter *ratelimit.Engine
	if cfg.RateLimiting.WebSocket.Connection.Enabled {
		connLimiter = ratelimit.NewEngine(wsBackend, toggleRateLimit(cfg.RateLimiting.WebSocket.Connection), true)
	}
	if cfg.RateLimiting.WebSocket.Message.Enabled {
		msgLimiter = ratelimit.NewEngine(wsBackend, toggleRateLimit(cfg.RateLimiting.WebSocket.Message), true)
	}

	trustedProxies, err := trustedproxy.ParseCIDRSet(cfg.TrustedProxy.Proxies)
	if err != nil {
		logging.Error("failed to parse trusted_proxy.proxies", zap.Error(err))
		os.Exit(1)
	}
	resolver := trustedproxy.Resolver{Trusted: trustedProxies}

	prepareBuilder := prepare.Builder{
		Forwarding:   forwarding.Builder{UseRFC7239: cfg.Forwarding.UseRFC7239},
		TrustedProxy: resolver,
	}

	dispatcher := transport.NewDispatcher(cfg.Transport)
	wsPipeline := wsproxy.New(cfg.WebSocket, prepareBuilder, connLimiter, msgLimiter, collector)

	gw := pipeline.New(
		reg,
		rateLimiter,
		evaluator,
		minter,
		resolver,
		prepareBuilder,
		dispatcher,
		wsPipeline,
		cfg.Auth,
		cfg.Limits,
		cfg.RateLimiting,
		collector,
		tracer,
		nil,
		nil,
	)

	watcher.OnChange(func(*config.Config) {
		logging.Warn("configuration file changed; restart the process to apply it " +
			"(the active pipeline wiring is immutable once built)")
	})
	if err := watcher.Start(); err != nil {
		logging.Error("failed to start config watcher", zap.Error(err))
	}
	defer watcher.Stop()

	sessionWatchCtx, sessionWatchCancel := context.WithCancel(context.Background())
	defer sessionWatchCancel()
	go func() {
		if err := wsPipeline.Watch(sessionWatchCtx, sessions); err != nil && sessionWatchCtx.Err() == nil {
			logging.Error("session invalidation watcher stopped", zap.Error(err))
		}
	}()

	httpServer := &http.Server{Addr: *addr, Handler: gw}
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("http listener starting", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logging.Info("metrics listener starting", zap.String("addr", *metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	if sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
		logging.Error("sd_notify READY failed", zap.Error(notifyErr))
	} else if sent {
		logging.Info("sd_notify READY sent")
	}

	g.Go(func() error {
		<-gctx.Done()
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		logging.Info("shutting down", zap.Duration("drain_timeout", cfg.Shutdown.DrainTimeout))

		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout)
		defer drainCancel()

		sessionWatchCancel()

		var shutdownErr error
		if err := httpServer.Shutdown(drainCtx); err != nil {
			shutdownErr = err
		}
		_ = metricsServer.Shutdown(drainCtx)
		return shutdownErr
	})

	if err := g.Wait(); err != nil {
		logging.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("aussie gateway stopped")
}

// loadSigningKeyring loads the RS256 signing key named by cfg.SigningKeyPath.
// When no path is configured (e.g. local development), an ephemeral key is
// generated so the gateway still mints verifiable downstream tokens within
// a single process lifetime.
func loadSigningKeyring(cfg config.AuthConfig) ([]auth.SigningKey, error) {
	kid := cfg.SigningKeyID
	if kid == "" {
		kid = "default"
	}

	if cfg.SigningKeyPath == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generating ephemeral signing key: %w", err)
		}
		return []auth.SigningKey{{KeyID: kid, PrivateKey: key}}, nil
	}

	raw, err := os.ReadFile(cfg.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing key %s: not a PEM file", cfg.SigningKeyPath)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("signing key %s: not a PKCS1 or PKCS8 RSA key: %w", cfg.SigningKeyPath, err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key %s: not an RSA key", cfg.SigningKeyPath)
		}
		key = rsaKey
	}

	return []auth.SigningKey{{KeyID: kid, PrivateKey: key}}, nil
}

// buildRateLimiterBackend picks the distributed Redis-backed store when
// configured, falling back to the in-process memory backend otherwise.
func buildRateLimiterBackend(cfg config.RateLimitingConfig) ports.RateLimiterBackend {
	if cfg.Backend == "redis" && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ratelimit.NewRedisBackend(client, "gw:rl:")
	}
	staleAfter := time.Duration(cfg.WindowSeconds*2) * time.Second
	return ratelimit.NewMemoryBackend(staleAfter)
}

func platformRateLimit(cfg config.RateLimitingConfig) domain.EffectiveRateLimit {
	return domain.EffectiveRateLimit{
		RequestsPerWindow: cfg.PlatformMaxRequestsPerWindow,
		WindowSeconds:     cfg.WindowSeconds,
		BurstCapacity:     cfg.BurstCapacity,
	}
}

func toggleRateLimit(t config.RateLimitToggle) domain.EffectiveRateLimit {
	return domain.EffectiveRateLimit{
		RequestsPerWindow: t.RequestsPerWindow,
		WindowSeconds:     t.WindowSeconds,
		BurstCapacity:     t.BurstCapacity,
	}
}

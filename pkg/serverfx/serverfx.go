package serverfx

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sydworks/chat-edge/pkg/config"
	"github.com/sydworks/chat-edge/pkg/genai"
	"github.com/sydworks/chat-edge/pkg/middleware/auth"
	"github.com/sydworks/chat-edge/pkg/middleware/logger"
	"github.com/sydworks/chat-edge/pkg/middleware/metrics"
	"github.com/sydworks/chat-edge/pkg/middleware/ratelimit"
	"github.com/sydworks/chat-edge/pkg/relay"
	"github.com/sydworks/chat-edge/pkg/resilient"
	"github.com/sydworks/chat-edge/pkg/token"
	"github.com/sydworks/chat-edge/pkg/transport/httpx"
)

// ---------- Config ----------

func provideConfig(zl *zap.Logger) config.Config {
	path := config.EnvOr("CHAT_EDGE_MANIFEST", "relay.toml")
	cfg, err := config.Load(path)
	if err != nil {
		zl.Fatal("manifest load failed", zap.Error(err), zap.String("path", path))
	}
	return cfg
}

// provideHTTPClient is the shared downstream client. No client-level timeout:
// the chat relay streams for as long as the downstream talks, and the
// resilient wrapper bounds its own attempts with per-attempt contexts.
func provideHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func retryPolicy(cfg config.Config) resilient.Policy {
	return resilient.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		AttemptTimeout:    time.Duration(cfg.Retry.AttemptTimeoutMS) * time.Millisecond,
		TimeoutBackoff:    time.Duration(cfg.Retry.TimeoutBackoffMS) * time.Millisecond,
		DefaultRetryAfter: time.Duration(cfg.Retry.DefaultRetryAfterMS) * time.Millisecond,
		OnAttempt:         metrics.ObserveUpstreamAttempt,
	}
}

// ---------- Router ----------

func provideRouter(
	cfg config.Config,
	a *auth.Middleware,
	lm *logger.Middleware,
	/* name:"metrics" */ m http.Handler,
	issuer *token.Issuer,
	client *http.Client,
	r httpx.Router,
	zl *zap.Logger,
) http.Handler {
	// Chat bodies may carry user content; only the small generate payloads
	// are safe to body-log.
	logger.AddBodyLogPaths("/v1/generate")

	r.Use(chimd.RequestID)
	r.Use(chimd.RealIP)
	r.Use(chimd.Recoverer)
	r.Use(chimd.Heartbeat("/ping"))
	r.Use(lm.Middleware())
	r.Use(metrics.Collect())

	r.Get("/metrics", m)

	chat := relay.NewChatHandler(issuer, client, cfg.Downstream.BaseURL, cfg.Downstream.ChatPath, zl)
	var chatH http.Handler = chat
	if cfg.RateLimit.RPS > 0 {
		rl := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		chatH = rl.Middleware()(chatH)
	}
	// Identity resolution is chat-only. The generic relay below forwards the
	// caller's Authorization header untouched and must not reject it here.
	r.Post("/api/chat", a.ResolveIdentity()(chatH))

	fwd := relay.NewForwardHandler(client, cfg.Downstream.BaseURL, cfg.Downstream.ForwardPrefix, zl)
	r.Mount(cfg.Downstream.ForwardPrefix, fwd)

	if cfg.GenAI.BaseURL != "" {
		gc := genai.NewClient(client, cfg.GenAI.BaseURL, cfg.GenAI.Model, retryPolicy(cfg), zl)
		var genH http.Handler = genai.NewHandler(gc, zl)
		if cfg.GenAI.RequireAuth {
			genH = a.ResolveIdentity()(a.RequireVerified()(genH))
		}
		r.Post("/v1/generate", genH)
	}

	return r.Mux()
}

// ---------- Server lifecycle ----------

type serverDeps struct {
	fx.In
	Cfg    config.Config
	Logger *zap.Logger
	App    http.Handler `name:"app"`
}

func registerHooks(lc fx.Lifecycle, d serverDeps) {
	// No WriteTimeout: chat responses stream for as long as the downstream
	// keeps talking.
	srv := &http.Server{
		Addr:        d.Cfg.Server.Listen,
		Handler:     d.App,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		TLSConfig:   &tls.Config{MinVersion: tls.VersionTLS13, MaxVersion: tls.VersionTLS13},
	}
	useTLS := fileExists(d.Cfg.Server.TLSCert) && fileExists(d.Cfg.Server.TLSKey)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if useTLS {
				d.Logger.Info("server starting (TLS)",
					zap.String("addr", srv.Addr),
					zap.String("cert", d.Cfg.Server.TLSCert),
				)
				go func() {
					if err := srv.ListenAndServeTLS(d.Cfg.Server.TLSCert, d.Cfg.Server.TLSKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			} else {
				d.Logger.Info("server starting (PLAINTEXT)", zap.String("addr", srv.Addr))
				go func() {
					srv.TLSConfig = nil
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping")
			return srv.Shutdown(ctx)
		},
	})
}

// ---------- tiny helpers ----------

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

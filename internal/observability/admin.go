package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/cileserver/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// AdminConfig wires the admin HTTP surface to the running server.
type AdminConfig struct {
	Name        string
	CorsOrigins []string
	// Stats is rendered at /stats.
	Stats func() any
	// Ready reports whether the protocol listener is accepting.
	Ready func() bool
	// Token guards /metrics and /stats when set. Health probes stay open.
	Token auth.Validator
}

// NewAdminRouter builds the health, readiness, metrics and stats routes.
func NewAdminRouter(cfg AdminConfig) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	appeared := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestObserver(cfg.Name, ComponentLogger("admin")))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(appeared).String(),
			"service": cfg.Name,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := cfg.Ready == nil || cfg.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"service": cfg.Name,
		})
	})

	guarded := r.Group("/")
	if cfg.Token != nil {
		guarded.Use(RequireToken(cfg.Token))
	}

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded.GET("/stats", func(c *gin.Context) {
		if cfg.Stats == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, cfg.Stats())
	})

	return r
}

// RequireToken rejects requests without a valid bearer token.
func RequireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Check(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// ServeAdmin runs handler on addr until ctx is done.
func ServeAdmin(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("admin.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

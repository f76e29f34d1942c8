// Package router exposes the HTTP control surface.
package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/mycoool/portsync/internal/auth"
	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/database"
	"github.com/mycoool/portsync/internal/host"
	"github.com/mycoool/portsync/internal/middleware"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/mycoool/portsync/internal/stream"
	"github.com/sirupsen/logrus"
)

// Monitor is the part of the reconciler the API drives.
type Monitor interface {
	Snapshot() reconciler.Status
	Force(ctx context.Context) reconciler.Outcome
}

// Prober reports who listens on a port.
type Prober interface {
	Probe(ctx context.Context, port int) (host.Listener, error)
}

// Deps are the collaborators of the API. Events, Logs, Probe and Stream may
// be nil; the matching endpoints then report the feature as unavailable.
type Deps struct {
	Monitor Monitor
	Config  *config.Store
	Tokens  *auth.Issuer
	Events  *database.EventService
	Logs    *database.LogService
	Stream  *stream.Manager
	Probe   Prober
	Log     logrus.FieldLogger

	// AccessLog receives request log lines; nil means gin.DefaultWriter.
	AccessLog io.Writer
	Version   string
	Started   time.Time
}

type api struct {
	Deps
}

// New builds the gin engine.
func New(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.AccessLog == nil {
		d.AccessLog = gin.DefaultWriter
	}
	if d.Started.IsZero() {
		d.Started = time.Now()
	}
	a := &api{Deps: d}

	g := gin.New()
	g.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output: d.AccessLog,
		Formatter: func(param gin.LogFormatterParams) string {
			if noLog, exists := param.Keys["disable_log"]; exists && noLog == true {
				return ""
			}
			return fmt.Sprintf("[PortSync] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				param.TimeStamp.Format("2006/01/02 - 15:04:05"),
				param.StatusCode,
				param.Latency,
				param.ClientIP,
				param.Method,
				param.Path,
				param.ErrorMessage,
			)
		},
	}))
	g.Use(gin.Recovery())
	g.Use(middleware.IPMiddleware())

	g.GET("/ping", middleware.DisableLogMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	g.POST("/api/login", a.login)

	if d.Stream != nil {
		g.GET("/stream", middleware.WsAuthMiddleware(d.Tokens), d.Stream.Handle)
	}

	apiGroup := g.Group("/api")
	apiGroup.Use(middleware.AuthMiddleware(d.Tokens))
	{
		apiGroup.GET("/status", middleware.DisableLogMiddleware(), a.status)
		apiGroup.POST("/check", a.check)
		apiGroup.GET("/history", gzip.Gzip(gzip.DefaultCompression), a.history)
		apiGroup.GET("/logs", gzip.Gzip(gzip.DefaultCompression), a.systemLogs)
		apiGroup.GET("/config", a.getConfig)
		apiGroup.PUT("/config", a.updateConfig)
		apiGroup.GET("/system", middleware.DisableLogMiddleware(), a.system)
	}
	return g
}

package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/portsync/internal/auth"
	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/host"
	"github.com/mycoool/portsync/internal/middleware"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	cfg := a.Config.Config().API
	if req.Username != cfg.Username || !auth.VerifyPassword(req.Password, cfg.PasswordHash) {
		a.Log.WithFields(logrus.Fields{
			"component": "api",
			"function":  "login",
			"username":  req.Username,
			"client_ip": middleware.GetClientIP(c),
		}).Warn("Failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	token, expires, err := a.Tokens.GenerateToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Port          int                `json:"port,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
	PortFile      string             `json:"port_file"`
	LastCheck     time.Time          `json:"last_check"`
	LastModTime   time.Time          `json:"last_mod_time"`
	Last          reconciler.Outcome `json:"last"`
	Listener      *host.Listener     `json:"listener,omitempty"`
	ListenerError string             `json:"listener_error,omitempty"`
}

func (a *api) status(c *gin.Context) {
	snap := a.Monitor.Snapshot()
	resp := StatusResponse{
		PortFile:    a.Config.Current().PortFile,
		LastCheck:   snap.State.LastCheck,
		LastModTime: snap.State.LastModTime,
		Last:        snap.Last,
	}
	if cur := snap.State.Current; cur != nil {
		resp.Port = cur.Port
		if cur.HasExpiry() {
			t := cur.ExpiresAt
			resp.ExpiresAt = &t
		}
	}
	if a.Probe != nil && resp.Port > 0 {
		l, err := a.Probe.Probe(c.Request.Context(), resp.Port)
		if err != nil {
			resp.ListenerError = err.Error()
		} else {
			resp.Listener = &l
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *api) check(c *gin.Context) {
	out := a.Monitor.Force(c.Request.Context())
	c.JSON(http.StatusOK, out)
}

func (a *api) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.Config.Current())
}

// updateConfig merges the request body into the monitor section, saves the
// file and reloads it.
func (a *api) updateConfig(c *gin.Context) {
	cfg := a.Config.Config()
	if w := cfg.Monitor.Watch; w != nil {
		watch := *w
		cfg.Monitor.Watch = &watch
	}
	if err := c.ShouldBindJSON(&cfg.Monitor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data: " + err.Error()})
		return
	}
	notes := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.Save(a.Config.Path(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save config failed: " + err.Error()})
		return
	}
	if err := a.Config.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload config failed: " + err.Error()})
		return
	}

	a.Log.WithFields(logrus.Fields{
		"component": "api",
		"function":  "updateConfig",
		"username":  c.GetString("username"),
		"client_ip": middleware.GetClientIP(c),
	}).Info("Monitor configuration updated")

	c.JSON(http.StatusOK, gin.H{"monitor": a.Config.Current(), "notes": notes})
}

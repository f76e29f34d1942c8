package router

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/host"
)

// SystemInfo is the body of GET /api/system.
type SystemInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
	HostUptime      uint64 `json:"host_uptime"` // seconds
	Uptime          int64  `json:"uptime"`      // seconds since portsync started
	Version         string `json:"version"`
	GoVersion       string `json:"go_version"`
	StreamClients   int    `json:"stream_clients"`
}

func (a *api) system(c *gin.Context) {
	info := SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    int64(time.Since(a.Started).Seconds()),
		Version:   a.Version,
		GoVersion: runtime.Version(),
	}
	if a.Stream != nil {
		info.StreamClients = a.Stream.ClientCount()
	}
	if h, err := host.InfoWithContext(c.Request.Context()); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		info.HostUptime = h.Uptime
		if h.KernelArch != "" {
			info.Arch = h.KernelArch
		}
	}
	c.JSON(http.StatusOK, info)
}

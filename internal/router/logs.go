package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/portsync/internal/database"
)

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Events   []database.PortEvent `json:"events"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

func (a *api) history(c *gin.Context) {
	if a.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not available without a database"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize > 100 {
		pageSize = 100
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	events, total, err := a.Events.List(database.HistoryQuery{
		Page:     page,
		PageSize: pageSize,
		Action:   c.Query("action"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history: " + err.Error()})
		return
	}
	if events == nil {
		events = []database.PortEvent{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Events: events, Total: total, Page: page, PageSize: pageSize})
}

func (a *api) systemLogs(c *gin.Context) {
	if a.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "logs are not available without a database"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize > 100 {
		pageSize = 100
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	logs, total, err := a.Logs.GetSystemLogs(page, pageSize, c.Query("level"), c.Query("category"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs: " + err.Error()})
		return
	}
	if logs == nil {
		logs = []database.SystemLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total, "page": page, "page_size": pageSize})
}

package api_router

import (
	"net/http"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/dto"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	*Handler
}

// NewHealthHandler 创建健康检查处理器实例
func NewHealthHandler(a *app.App) *HealthHandler {
	return &HealthHandler{Handler: NewHandler(a)}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string  `json:"status"`   // "healthy" 或 "unhealthy"
	Version  string  `json:"version"`  // 服务版本号
	Uptime   float64 `json:"uptime"`   // 运行时间（秒）
	Database string  `json:"database"` // "connected" 或 "error"
	Shutdown bool    `json:"shutdown"` // 是否正在关闭
}

// Check 健康检查接口
// @Summary 健康检查
// @Description 检查服务健康状态，包括数据库连接
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /api/health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	response := HealthResponse{
		Status:   "healthy",
		Version:  h.App.Version().Version,
		Uptime:   time.Since(h.App.StartTime).Seconds(),
		Database: "connected",
		Shutdown: h.App.IsShuttingDown(),
	}

	if err := h.App.DB.WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		response.Status = "unhealthy"
		response.Database = "error"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	ok(c, code.Success, response)
}

// ServerVersion retrieves server version information
// @Summary Get server version info
// @Tags System
// @Produce json
// @Success 200 {object} pkgapp.Res{data=dto.VersionDTO} "Success"
// @Router /api/version [get]
func (h *HealthHandler) ServerVersion(c *gin.Context) {
	v := h.App.Version()
	ok(c, code.Success, dto.VersionDTO{
		Name:      app.Name,
		Version:   v.Version,
		GitTag:    v.GitTag,
		BuildTime: v.BuildTime,
	})
}

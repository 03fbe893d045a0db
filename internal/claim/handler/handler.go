package handler

import (
	"errors"
	"strconv"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/ballggwp/eclaim/internal/claim/sse"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/ballggwp/eclaim/internal/config"
	"github.com/ballggwp/eclaim/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Auth   *AuthHandler
	User   *UserHandler
	Claim  *ClaimHandler
	Report *ReportHandler
	SSE    *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub, cfg *config.Config) *Handlers {
	return &Handlers{
		Auth:   NewAuthHandler(svc.Auth),
		User:   NewUserHandler(svc.User),
		Claim:  NewClaimHandler(svc.Claim, cfg.Claim.MaxUploadMB),
		Report: NewReportHandler(svc.Report),
		SSE:    NewSSEHandler(hub),
	}
}

// Register mounts every route. public carries no auth; protected must already
// run middleware.JWTAuth.
func (h *Handlers) Register(public, protected *gin.RouterGroup) {
	public.POST("/auth/login", h.Auth.Login)
	public.POST("/auth/refresh", h.Auth.Refresh)

	protected.POST("/auth/logout", h.Auth.Logout)
	protected.GET("/auth/me", h.Auth.Me)

	protected.GET("/users", h.User.List)
	protected.GET("/users/:id", h.User.Get)
	protected.GET("/userinfo", h.User.Search)

	claims := protected.Group("/claims")
	{
		claims.GET("", h.Claim.List)
		claims.GET("/dashboard", h.Claim.Dashboard)
		claims.POST("", h.Claim.Create)
		claims.GET("/:id", h.Claim.Get)
		claims.GET("/:id/history", h.Claim.History)
		claims.GET("/:id/timeline", h.Claim.Timeline)
		claims.POST("/:id/actions", h.Claim.Action)
		claims.PUT("/:id/cpm", h.Claim.SaveContent)
		claims.POST("/:id/userconfirm", h.Claim.UserConfirm)
		claims.PUT("/:id/signer", h.Claim.EditSigner)
		claims.GET("/:id/fppa04", h.Claim.GetSettlement)
		claims.PUT("/:id/fppa04", h.Claim.SaveSettlement)
		claims.GET("/:id/attachments", h.Claim.ListAttachments)
		claims.POST("/:id/attachments", h.Claim.AddAttachment)
		claims.GET("/:id/attachments/:attId", h.Claim.DownloadAttachment)
		claims.DELETE("/:id/attachments/:attId", h.Claim.DeleteAttachment)
	}

	reports := protected.Group("/reports", middleware.RequireRole(string(entity.RoleInsurance), string(entity.RoleManager)))
	{
		reports.GET("/cpm", h.Report.CPM)
	}

	protected.GET("/sse/events", h.SSE.Stream)
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// Fail maps a service error onto the response envelope.
func Fail(c *gin.Context, err error) {
	var data interface{}
	var werr *workflow.Error
	if errors.As(err, &werr) && len(werr.Fields) > 0 {
		data = gin.H{"fields": werr.Fields}
	}

	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		ErrorWithData(c, 40400, err.Error(), data)
	case errors.Is(err, workflow.ErrUnauthorized):
		ErrorWithData(c, 40300, err.Error(), data)
	case errors.Is(err, workflow.ErrInvalidTransition):
		ErrorWithData(c, 40901, err.Error(), data)
	case errors.Is(err, workflow.ErrConflict):
		ErrorWithData(c, 40900, err.Error(), data)
	case errors.Is(err, workflow.ErrInvalidState):
		ErrorWithData(c, 40902, err.Error(), data)
	case errors.Is(err, workflow.ErrValidation):
		ErrorWithData(c, 40001, err.Error(), data)
	case errors.Is(err, service.ErrInvalidCredentials):
		Error(c, 40101, err.Error())
	case errors.Is(err, service.ErrInvalidRefreshToken):
		Error(c, 40105, err.Error())
	default:
		// middleware.Logger reports c.Errors with the access log line
		c.Error(err)
		InternalError(c, "internal error")
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// CurrentActor builds the workflow actor from the verified token.
func CurrentActor(c *gin.Context) workflow.Actor {
	return workflow.Actor{
		ID:             c.GetString("user_id"),
		EmployeeNumber: c.GetString("employee_number"),
		Name:           c.GetString("user_name"),
		Email:          c.GetString("user_email"),
		Role:           entity.Role(c.GetString("role")),
	}
}

// queryInt 读取正整数查询参数
func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

package handler

import (
	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.svc.ListAll(c.Request.Context())
	if err != nil {
		InternalError(c, "获取用户列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": users})
}

func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, user)
}

// Search 搜索用户（按名字/邮箱/工号模糊匹配），用于选择审批人和签字人
// GET /api/v1/userinfo?keyword=xxx
func (h *UserHandler) Search(c *gin.Context) {
	users, err := h.svc.Search(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		InternalError(c, "搜索用户失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": users})
}

package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmanager/backend/internal/domain"
	"aliasmanager/backend/internal/middleware"
	"aliasmanager/backend/internal/service"
)

// AliasHandler 处理当前账户的别名请求
type AliasHandler struct {
	aliases *service.AliasService
	log     *zap.Logger
}

// NewAliasHandler 创建别名处理器
func NewAliasHandler(aliases *service.AliasService, log *zap.Logger) *AliasHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AliasHandler{aliases: aliases, log: log}
}

// listAliasesQuery 列表查询参数，page 与 pageSize 给出时必须 >= 1
type listAliasesQuery struct {
	Filter   string `form:"filter"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"pageSize" binding:"omitempty,min=1"`
	Strict   bool   `form:"strict"`
}

// List 列出别名
//
// GET /api/account/alias?filter=&page=&pageSize=&strict=
func (h *AliasHandler) List(c *gin.Context) {
	var query listAliasesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	results, err := h.aliases.List(c.Request.Context(), middleware.Username(c), domain.ListQuery{
		Filter:   query.Filter,
		Page:     query.Page,
		PageSize: query.PageSize,
		Strict:   query.Strict,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, results)
}

// Create 创建别名
//
// POST /api/account/alias
func (h *AliasHandler) Create(c *gin.Context) {
	var req domain.Alias
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	alias, err := h.aliases.Create(c.Request.Context(), middleware.Username(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, alias)
}

// Update 修改别名地址
//
// PUT /api/account/alias/:address
func (h *AliasHandler) Update(c *gin.Context) {
	var req domain.Alias
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	alias, err := h.aliases.Update(c.Request.Context(), middleware.Username(c), c.Param("address"), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, alias)
}

// Delete 删除别名
//
// DELETE /api/account/alias/:address
func (h *AliasHandler) Delete(c *gin.Context) {
	if err := h.aliases.Delete(c.Request.Context(), middleware.Username(c), c.Param("address")); err != nil {
		respondError(c, h.log, err)
		return
	}
	NoContent(c)
}

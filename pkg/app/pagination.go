package app

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PaginationConfig 分页配置
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultPaginationConfig is replaced from app.default-page-size and app.max-page-size at startup
// DefaultPaginationConfig 启动时由配置覆盖
var DefaultPaginationConfig = PaginationConfig{
	DefaultPageSize: 10,
	MaxPageSize:     100,
}

// PageQuery is the clamped page selection of one request
// PageQuery 请求的分页参数（已校正）
type PageQuery struct {
	Page     int
	PageSize int
}

// Offset 当前页第一条记录的下标
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// queryInt reads name from the query string, then from the form body
func queryInt(c *gin.Context, name string) int {
	s, exist := c.GetQuery(name)
	if !exist {
		s = c.PostForm(name)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// ParsePageWithConfig reads page and pageSize, out of range values are clamped
// ParsePageWithConfig 读取 page 与 pageSize，超出范围时校正
func ParsePageWithConfig(c *gin.Context, cfg PaginationConfig) PageQuery {
	q := PageQuery{
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "pageSize"),
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = cfg.DefaultPageSize
	case q.PageSize > cfg.MaxPageSize:
		q.PageSize = cfg.MaxPageSize
	}
	return q
}

// ParsePage 使用默认配置读取分页参数
func ParsePage(c *gin.Context) PageQuery {
	return ParsePageWithConfig(c, DefaultPaginationConfig)
}

// NewPager 由请求参数构建分页信息
func NewPager(c *gin.Context, totalRows int) *Pager {
	q := ParsePage(c)
	return &Pager{
		Page:      q.Page,
		PageSize:  q.PageSize,
		TotalRows: totalRows,
	}
}

// Paginate returns the page of items selected by the request
// Paginate 按请求参数截取当前页
func Paginate[T any](c *gin.Context, items []T) []T {
	q := ParsePage(c)
	offset := q.Offset()
	if offset >= len(items) {
		return []T{}
	}
	end := offset + q.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

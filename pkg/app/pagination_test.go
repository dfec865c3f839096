package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newQueryContext(target string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c
}

func TestParsePageWithConfig(t *testing.T) {
	cfg := PaginationConfig{DefaultPageSize: 20, MaxPageSize: 50}

	cases := []struct {
		target string
		want   PageQuery
	}{
		{"/x", PageQuery{Page: 1, PageSize: 20}},
		{"/x?page=3&pageSize=10", PageQuery{Page: 3, PageSize: 10}},
		{"/x?page=-2&pageSize=500", PageQuery{Page: 1, PageSize: 50}},
		{"/x?page=abc&pageSize=0", PageQuery{Page: 1, PageSize: 20}},
	}
	for _, tc := range cases {
		got := ParsePageWithConfig(newQueryContext(tc.target), cfg)
		assert.Equal(t, tc.want, got, tc.target)
	}
	assert.Equal(t, 20, PageQuery{Page: 3, PageSize: 10}.Offset())
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{3, 4}, Paginate(newQueryContext("/x?page=2&pageSize=2"), items))
	assert.Equal(t, []int{5}, Paginate(newQueryContext("/x?page=3&pageSize=2"), items))
	assert.Equal(t, []int{}, Paginate(newQueryContext("/x?page=9&pageSize=2"), items))

	p := NewPager(newQueryContext("/x?page=2&pageSize=2"), len(items))
	assert.Equal(t, Pager{Page: 2, PageSize: 2, TotalRows: 5}, *p)
}

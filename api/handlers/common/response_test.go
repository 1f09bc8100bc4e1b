package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewListResponse(t *testing.T) {
	t.Run("计算总页数", func(t *testing.T) {
		resp := NewListResponse([]string{"a", "b"}, 1, 20, 45)
		assert.Equal(t, 3, resp.Pagination.TotalPage)
		assert.Equal(t, int64(45), resp.Pagination.Total)
		assert.Len(t, resp.Items, 2)
	})

	t.Run("整除", func(t *testing.T) {
		resp := NewListResponse(nil, 2, 20, 40)
		assert.Equal(t, 2, resp.Pagination.TotalPage)
		assert.Equal(t, 2, resp.Pagination.Page)
	})

	t.Run("空列表", func(t *testing.T) {
		resp := NewListResponse([]string{}, 1, 20, 0)
		assert.Equal(t, 0, resp.Pagination.TotalPage)
	})
}

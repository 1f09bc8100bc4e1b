package incidents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatcoin/internal/settlement"
	"chatcoin/internal/testutil"
	"chatcoin/internal/worker/tasks"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listBody struct {
	Data struct {
		Items      []settlement.Incident `json:"items"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	} `json:"data"`
}

func TestIncidentHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t, &settlement.Incident{})
	repo := settlement.NewIncidentRepository(db)
	require.NoError(t, repo.Record(context.Background(), tasks.SettlementIncidentPayload{
		UserID:     "u1",
		RoomID:     "r1",
		MessageID:  "msg-1",
		Charge:     "0.2000000000",
		Error:      "提交失败",
		OccurredAt: time.Now().UTC(),
	}))

	h := NewHandler(repo)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", "admin-1"); c.Next() })
	r.GET("/incidents", h.List)
	r.POST("/incidents/:id/resolve", h.Resolve)

	get := func(path string) listBody {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body listBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}
	resolve := func(id string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/incidents/"+id+"/resolve", nil))
		return w.Code
	}

	open := get("/incidents")
	require.Len(t, open.Data.Items, 1)
	assert.Equal(t, "msg-1", open.Data.Items[0].MessageID)

	assert.Equal(t, http.StatusOK, resolve(open.Data.Items[0].ID))
	assert.Equal(t, http.StatusNotFound, resolve(open.Data.Items[0].ID))

	assert.Zero(t, get("/incidents").Data.Pagination.Total)

	all := get("/incidents?status=all")
	require.Len(t, all.Data.Items, 1)
	assert.True(t, all.Data.Items[0].Resolved)
	require.NotNil(t, all.Data.Items[0].ResolvedBy)
	assert.Equal(t, "admin-1", *all.Data.Items[0].ResolvedBy)
}

package responses

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T, path string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	return c, w
}

func TestListNeverRendersNull(t *testing.T) {
	c, w := newContext(t, "/api/v1/deals")
	c.Request.Header.Set("X-Trace-ID", "trace-1")
	List[string](c, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []any{}, body["data"])
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, true, body["success"])
}

func TestErrorRendersProblem(t *testing.T) {
	c, w := newContext(t, "/api/v1/custody/withdrawals")
	Error(c, errors.AddressNotWhitelisted.Explain("XRP address is not whitelisted").WithDetail("tag", "99"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/api/v1/custody/withdrawals", body["instance"])
	assert.Equal(t, "99", body["tag"])
	assert.True(t, c.IsAborted())
}

package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perform(t *testing.T, inbound string) (string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var ctxID string
	router := gin.New()
	router.Use(Middleware())
	router.GET("/", func(c *gin.Context) {
		ctxID = Value(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set("X-Request-ID", inbound)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get("X-Request-ID")
}

func TestGeneratesIDWhenAbsent(t *testing.T) {
	ctxID, echoed := perform(t, "")
	require.NotEmpty(t, ctxID)
	assert.Equal(t, ctxID, echoed)
	_, err := uuid.Parse(ctxID)
	assert.NoError(t, err)
}

func TestKeepsWellFormedInboundID(t *testing.T) {
	ctxID, echoed := perform(t, "edge-proxy.0042")
	assert.Equal(t, "edge-proxy.0042", ctxID)
	assert.Equal(t, "edge-proxy.0042", echoed)
}

func TestReplacesMalformedInboundID(t *testing.T) {
	for _, inbound := range []string{
		"bad id with spaces",
		"inject\r\nSet-Cookie: x",
		strings.Repeat("a", 65),
	} {
		ctxID, echoed := perform(t, inbound)
		require.NotEqual(t, inbound, ctxID)
		assert.Equal(t, ctxID, echoed)
		_, err := uuid.Parse(ctxID)
		assert.NoError(t, err)
	}
}

func TestValueOutsideMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, Value(c))
}

package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	e := New(http.StatusUnprocessableEntity, "余额不足", "InsufficientFunds")
	assert.Equal(t, 422, e.StatusCode)
	assert.Equal(t, "Unprocessable Entity", e.Error)
	assert.Equal(t, "余额不足", e.Message)
	assert.Equal(t, "InsufficientFunds", e.Type)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(e.JSON()), &decoded))
	assert.Equal(t, float64(422), decoded["statusCode"])
}

func TestEnvelopeOmitsEmptyType(t *testing.T) {
	e := New(http.StatusInternalServerError, "服务内部错误", "")
	assert.NotContains(t, e.JSON(), `"type"`)
}

func TestRaw(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("成功响应默认 200", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Raw(c, `{"walletId":"w1","newBalance":100}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"walletId":"w1","newBalance":100}`, w.Body.String())
	})

	t.Run("错误信封恢复原状态码", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Raw(c, New(http.StatusUnprocessableEntity, "余额不足", "InsufficientFunds").JSON())
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("非对象原文也原样返回", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Raw(c, `[{"eventType":"FUNDS_DEPOSITED"}]`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

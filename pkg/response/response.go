package response

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope 统一错误响应
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
}

// New 构造错误信封，Error 字段为标准 HTTP 状态描述
func New(statusCode int, message, errType string) Envelope {
	return Envelope{
		StatusCode: statusCode,
		Error:      http.StatusText(statusCode),
		Message:    message,
		Type:       errType,
	}
}

// JSON 序列化信封
func (e Envelope) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// OK 写出 200 成功响应
func OK(c *gin.Context, body interface{}) {
	c.JSON(http.StatusOK, body)
}

// Fail 写出错误信封
func Fail(c *gin.Context, e Envelope) {
	c.JSON(e.StatusCode, e)
}

// BadRequest 参数校验失败
func BadRequest(c *gin.Context, message string) {
	Fail(c, New(http.StatusBadRequest, message, ""))
}

// Raw 原样写出已序列化的响应（幂等重放路径）
// 原文可能是错误信封，从 statusCode 字段恢复 HTTP 状态码
func Raw(c *gin.Context, body string) {
	var probe struct {
		StatusCode int `json:"statusCode"`
	}
	status := http.StatusOK
	if err := json.Unmarshal([]byte(body), &probe); err == nil && probe.StatusCode != 0 {
		status = probe.StatusCode
	}
	c.Data(status, "application/json; charset=utf-8", []byte(body))
}

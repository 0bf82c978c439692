package http

import "github.com/gin-gonic/gin"

// errorBody 是所有错误响应的统一结构
type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse 中止请求并返回 {"error": message}
func ErrorResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, errorBody{Error: message})
}

// SuccessResponse 以 JSON 返回 data
func SuccessResponse(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`              // 业务错误码（0表示成功）
	Message string      `json:"message,omitempty"` // 提示信息
	Data    interface{} `json:"data"`              // 实际数据
}

// PageData 分页数据
type PageData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = struct{}{}
	}
	c.JSON(http.StatusOK, Response{Code: apperrors.Success, Data: data})
}

// Created 创建资源成功（201）
func Created(c *gin.Context, data interface{}) {
	if data == nil {
		data = struct{}{}
	}
	c.JSON(http.StatusCreated, Response{Code: apperrors.Success, Data: data})
}

// Page 分页响应
func Page(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	Success(c, PageData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// BadRequest 400 错误
func BadRequest(c *gin.Context, details string) {
	ErrorWithCode(c, apperrors.ErrBadRequest, details)
}

// Unauthorized 401 错误
func Unauthorized(c *gin.Context, details string) {
	ErrorWithCode(c, apperrors.ErrUnauthorized, details)
}

// HandleError 统一错误处理（使用AppError）
func HandleError(c *gin.Context, err error) {
	code := apperrors.ExtractCode(err)
	// 非业务错误记录到 gin 上下文，由访问日志输出
	if apperrors.IsServerError(code) {
		_ = c.Error(err)
	}
	ErrorWithCode(c, code, apperrors.GetDetails(err))
}

// ErrorWithCode 使用错误码的错误响应
func ErrorWithCode(c *gin.Context, code int, details ...string) {
	c.AbortWithStatusJSON(apperrors.GetHTTPStatus(code), Response{
		Code:    code,
		Message: apperrors.FormatError(code, details...),
		Data:    struct{}{},
	})
}

package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeNotEnough     = 402
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodePaymentNotFound      = 1001
	CodePaymentStatusInvalid = 1002
	CodeBalanceNotEnough     = 1003
	CodeAccountNotFound      = 1004
	CodeUsageNotFound        = 1005
	CodeRefundWindowClosed   = 1006
	CodeGenerationFailed     = 1007
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InsufficientCredits 返回 402 并携带本次所需积分，便于前端引导充值
func InsufficientCredits(c *gin.Context, required int64) {
	c.JSON(http.StatusPaymentRequired, Response{
		Code:    CodeBalanceNotEnough,
		Message: "积分余额不足",
		Data:    gin.H{"required": required},
	})
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

// InvalidState 状态机不允许的操作（重复确认、窗口外退款等），无任何变更
func InvalidState(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/geektown/Nano-Bananary/internal/config"
	"github.com/geektown/Nano-Bananary/internal/infrastructure/genai"
	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"
	"github.com/geektown/Nano-Bananary/internal/service"
	"github.com/geektown/Nano-Bananary/pkg/idgen"
	"github.com/geektown/Nano-Bananary/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg            *config.Config
	authService    *service.AuthService
	ledgerService  *service.LedgerService
	paymentService *service.PaymentService
	consumeService *service.ConsumeService
	genaiClient    *genai.Client
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	ledger := service.NewLedgerService(db)
	return &Handler{
		cfg:            cfg,
		authService:    service.NewAuthService(db, cfg, ledger),
		ledgerService:  ledger,
		paymentService: service.NewPaymentService(db, rdb, cfg, ledger),
		consumeService: service.NewConsumeService(db, cfg, ledger),
		genaiClient:    genai.NewClient(&cfg.GenAI),
	}
}

// ============================================================
// 认证相关接口
// ============================================================

// RegisterRequest 注册请求
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=64"`
}

// Register 用户注册
// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			response.BusinessError(c, response.CodeBusinessError, err.Error())
			return
		}
		log.Printf("[Register] 注册失败: %v", err)
		response.ServerError(c, "注册失败")
		return
	}

	token, err := GenerateToken(&h.cfg.JWT, user)
	if err != nil {
		log.Printf("[Register] 签发令牌失败: %v", err)
		response.ServerError(c, "注册失败")
		return
	}

	response.Success(c, gin.H{
		"user":  user,
		"token": token,
	})
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) || errors.Is(err, service.ErrEmailNotVerified) {
			response.Unauthorized(c, err.Error())
			return
		}
		log.Printf("[Login] 登录失败: %v", err)
		response.ServerError(c, "登录失败")
		return
	}

	token, err := GenerateToken(&h.cfg.JWT, user)
	if err != nil {
		log.Printf("[Login] 签发令牌失败: %v", err)
		response.ServerError(c, "登录失败")
		return
	}

	response.Success(c, gin.H{
		"user":  user,
		"token": token,
	})
}

// Me 查询当前用户信息与余额
// GET /api/v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	userID := CurrentUserID(c)

	user, err := h.authService.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.ServerError(c, "查询用户失败")
		return
	}

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, "查询账户失败")
		return
	}

	response.Success(c, gin.H{
		"user":    user,
		"balance": account.Balance,
	})
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询积分余额
// GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := CurrentUserID(c)

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.ServerError(c, "查询账户失败")
		return
	}

	response.Success(c, gin.H{
		"user_id":      account.UserID,
		"balance":      account.Balance,
		"last_updated": account.UpdatedAt,
	})
}

// ListTransactions 分页查询积分流水
// GET /api/v1/account/transactions?page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := CurrentUserID(c)
	page, pageSize := parsePagination(c)

	transactions, total, err := h.ledgerService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, "查询流水失败")
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CheckBalance 余额是否满足指定消费
// GET /api/v1/account/check-balance?required=5
//
// 该检查仅作前置提示，与实际扣减之间存在竞态，最终以消费时的事务校验为准
func (h *Handler) CheckBalance(c *gin.Context) {
	userID := CurrentUserID(c)

	required, err := strconv.ParseInt(c.Query("required"), 10, 64)
	if err != nil || required < 0 {
		response.ParamError(c, "required 参数错误")
		return
	}

	enough, err := h.ledgerService.CheckBalance(c.Request.Context(), userID, required)
	if err != nil {
		response.ServerError(c, "查询余额失败")
		return
	}

	response.Success(c, gin.H{
		"required":   required,
		"sufficient": enough,
	})
}

// GetRules 查询计费规则：服务价目与充值汇率
// GET /api/v1/account/rules
func (h *Handler) GetRules(c *gin.Context) {
	response.Success(c, gin.H{
		"exchange_rate":         model.ExchangeRate,
		"signup_reward_credits": h.cfg.Business.SignupRewardCredits,
		"service_prices":        service.ServicePrices,
	})
}

// ============================================================
// 支付相关接口
// ============================================================

// CreatePaymentRequest 创建支付单请求
type CreatePaymentRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"` // 支付金额（货币单位）
	Method string `json:"method" binding:"required"`      // wechat / alipay
}

// CreatePayment 创建支付单
// POST /api/v1/payment/create
func (h *Handler) CreatePayment(c *gin.Context) {
	userID := CurrentUserID(c)

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.paymentService.CreatePayment(c.Request.Context(), userID, req.Amount, req.Method)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPaymentMethod) {
			response.ParamError(c, err.Error())
			return
		}
		log.Printf("[CreatePayment] 创建支付单失败: %v", err)
		response.ServerError(c, "创建支付单失败")
		return
	}

	response.Success(c, payment)
}

// GetPayment 查询支付单详情
// GET /api/v1/payment/detail?payment_no=xxx
func (h *Handler) GetPayment(c *gin.Context) {
	userID := CurrentUserID(c)

	paymentNo := c.Query("payment_no")
	if paymentNo == "" {
		response.ParamError(c, "payment_no 参数不能为空")
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), paymentNo)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.ServerError(c, "查询支付单失败")
		return
	}

	if payment.UserID != userID {
		response.NotFound(c, repository.ErrPaymentNotFound.Error())
		return
	}

	response.Success(c, payment)
}

// ListPayments 分页查询支付单
// GET /api/v1/payment/list?page=1&page_size=10
func (h *Handler) ListPayments(c *gin.Context) {
	userID := CurrentUserID(c)
	page, pageSize := parsePagination(c)

	payments, total, err := h.paymentService.ListPayments(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, "查询支付单失败")
		return
	}

	response.Success(c, gin.H{
		"list":      payments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// PaymentCallbackRequest 支付渠道回调
type PaymentCallbackRequest struct {
	PaymentNo     string `json:"payment_no" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"` // 渠道流水号
	Success       bool   `json:"success"`
}

// PaymentCallback 支付渠道回调
// POST /api/v1/payment/callback
//
// 【关键点】回调可能重复投递：状态条件流转保证同一支付单只入账一次，
// 重放请求返回状态不合法（400）
func (h *Handler) PaymentCallback(c *gin.Context) {
	var req PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.paymentService.CompletePayment(c.Request.Context(), req.PaymentNo, req.TransactionID, req.Success)
	if err != nil {
		h.handlePaymentError(c, err)
		return
	}

	response.Success(c, payment)
}

// SimulatePaymentRequest 模拟支付请求（开发联调用）
type SimulatePaymentRequest struct {
	PaymentNo string `json:"payment_no" binding:"required"`
}

// SimulatePayment 模拟支付成功，直接确认自己的待支付单
// POST /api/v1/payment/simulate
func (h *Handler) SimulatePayment(c *gin.Context) {
	userID := CurrentUserID(c)

	var req SimulatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), req.PaymentNo)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.ServerError(c, "查询支付单失败")
		return
	}
	if payment.UserID != userID {
		response.NotFound(c, repository.ErrPaymentNotFound.Error())
		return
	}

	result, err := h.paymentService.CompletePayment(c.Request.Context(), req.PaymentNo, "SIM"+idgen.GenerateTransactionNo(), true)
	if err != nil {
		h.handlePaymentError(c, err)
		return
	}

	response.Success(c, result)
}

func (h *Handler) handlePaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrPaymentNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrPaymentStatusInvalid):
		response.InvalidState(c, response.CodePaymentStatusInvalid, err.Error())
	default:
		log.Printf("[Payment] 支付确认失败: %v", err)
		response.ServerError(c, "支付确认失败")
	}
}

// ============================================================
// 付费服务接口
// ============================================================

// EditImage 图片编辑
// POST /api/v1/service/edit-image  (multipart/form-data)
//
// 【关键点】先扣费后调用：积分在同一事务内校验并扣减，
// 生成调用失败时退还本次用量，用户不为失败的生成买单
func (h *Handler) EditImage(c *gin.Context) {
	userID := CurrentUserID(c)

	instruction := c.PostForm("instruction")
	if instruction == "" {
		response.ParamError(c, "instruction 参数不能为空")
		return
	}

	image, mimeType, err := readFormImage(c, "image", true)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	mask, _, err := readFormImage(c, "mask", false)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	secondary, _, err := readFormImage(c, "secondary_image", false)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	price, err := service.PriceFor(model.ServiceKeyImageEdit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	usage, err := h.consumeService.Consume(c.Request.Context(), userID, model.ServiceKeyImageEdit, price, "图片编辑")
	if err != nil {
		h.handleConsumeError(c, err, price)
		return
	}

	result, err := h.genaiClient.EditImage(c.Request.Context(), &genai.EditImageRequest{
		Image:          image,
		MimeType:       mimeType,
		Instruction:    instruction,
		Mask:           mask,
		SecondaryImage: secondary,
	})
	if err != nil {
		h.refundFailedGeneration(c, usage.UsageNo)
		h.handleGenerationError(c, err)
		return
	}

	data := gin.H{
		"usage_no":     usage.UsageNo,
		"credits_used": usage.CreditsUsed,
		"text":         result.Text,
	}
	if result.Image != nil {
		data["image"] = base64.StdEncoding.EncodeToString(result.Image)
		data["mime_type"] = result.MimeType
	}
	response.Success(c, data)
}

// GenerateVideoRequest 视频生成请求
type GenerateVideoRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	Image    string `json:"image"` // 可选：首帧参考图（base64）
	MimeType string `json:"mime_type"`
}

// GenerateVideo 视频生成
// POST /api/v1/service/generate-video
func (h *Handler) GenerateVideo(c *gin.Context) {
	userID := CurrentUserID(c)

	var req GenerateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var image []byte
	if req.Image != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			response.ParamError(c, "image 参数不是合法的 base64")
			return
		}
		image = decoded
	}

	price, err := service.PriceFor(model.ServiceKeyVideoGenerate)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	usage, err := h.consumeService.Consume(c.Request.Context(), userID, model.ServiceKeyVideoGenerate, price, "视频生成")
	if err != nil {
		h.handleConsumeError(c, err, price)
		return
	}

	videoURL, err := h.genaiClient.GenerateVideo(c.Request.Context(), &genai.GenerateVideoRequest{
		Prompt:   req.Prompt,
		Image:    image,
		MimeType: req.MimeType,
	})
	if err != nil {
		h.refundFailedGeneration(c, usage.UsageNo)
		h.handleGenerationError(c, err)
		return
	}

	response.Success(c, gin.H{
		"usage_no":     usage.UsageNo,
		"credits_used": usage.CreditsUsed,
		"video_url":    videoURL,
	})
}

func (h *Handler) handleConsumeError(c *gin.Context, err error, required int64) {
	switch {
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.InsufficientCredits(c, required)
	case errors.Is(err, repository.ErrOptimisticLock):
		response.BusinessError(c, response.CodeBusinessError, "系统繁忙，请重试")
	default:
		log.Printf("[Consume] 扣费失败: %v", err)
		response.ServerError(c, "扣费失败")
	}
}

// refundFailedGeneration 生成失败时退还本次扣费
// 退款失败只记日志：用量仍在退款窗口内，可由人工或对账任务补偿
func (h *Handler) refundFailedGeneration(c *gin.Context, usageNo string) {
	if _, err := h.consumeService.Refund(c.Request.Context(), usageNo, "生成失败自动退款"); err != nil {
		log.Printf("[Consume] 生成失败退款异常: usageNo=%s, err=%v", usageNo, err)
	}
}

func (h *Handler) handleGenerationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, genai.ErrContentPolicy):
		response.BusinessError(c, response.CodeGenerationFailed, "内容被安全策略拦截，积分已退还")
	case errors.Is(err, genai.ErrQuotaExceeded):
		response.BusinessError(c, response.CodeGenerationFailed, "生成服务繁忙，请稍后重试，积分已退还")
	default:
		log.Printf("[GenAI] 生成调用失败: %v", err)
		response.BusinessError(c, response.CodeGenerationFailed, "生成失败，积分已退还")
	}
}

// ============================================================
// 工具函数
// ============================================================

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// readFormImage 读取 multipart 图片字段，required 为 false 时字段缺失返回 nil
func readFormImage(c *gin.Context, field string, required bool) ([]byte, string, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		if !required {
			return nil, "", nil
		}
		return nil, "", errors.New(field + " 文件不能为空")
	}

	data, mimeType, err := readMultipartFile(fileHeader)
	if err != nil {
		return nil, "", errors.New("读取 " + field + " 文件失败")
	}
	return data, mimeType, nil
}

func readMultipartFile(fileHeader *multipart.FileHeader) ([]byte, string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/geektown/Nano-Bananary/internal/config"

	"github.com/go-resty/resty/v2"
)

// ============================================================================
// 外部生成式 AI 服务客户端
// ============================================================================
//
// 图片编辑：单次同步调用，入参为图片字节 + MIME 类型 + 文字指令，
// 可选蒙版图与第二张参考图，返回生成的图片字节或文本说明。
// 视频生成：提交后轮询操作状态，完成后返回视频下载地址。
//
// 内容安全拦截与配额用尽是两类需要区分上抛的错误：
// 前者调用方应退还积分并提示用户修改指令，后者属于服务端额度问题。
// ============================================================================

var (
	ErrContentPolicy = errors.New("内容被安全策略拦截")
	ErrQuotaExceeded = errors.New("生成服务配额已用尽")
	ErrEmptyResult   = errors.New("生成服务未返回结果")
)

// Client 生成服务客户端
type Client struct {
	http *resty.Client
	cfg  *config.GenAIConfig
}

// NewClient 创建客户端
func NewClient(cfg *config.GenAIConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey)

	return &Client{http: client, cfg: cfg}
}

// EditImageRequest 图片编辑请求
type EditImageRequest struct {
	Image          []byte // 原图字节
	MimeType       string // 原图 MIME 类型
	Instruction    string // 编辑指令
	Mask           []byte // 可选：蒙版图（标记编辑区域）
	SecondaryImage []byte // 可选：第二张参考图
}

// EditImageResult 图片编辑结果
type EditImageResult struct {
	Image    []byte // 生成的图片字节，可能为空
	MimeType string
	Text     string // 模型附带的文本说明，可能为空
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type generateRequest struct {
	Contents []struct {
		Parts []contentPart `json:"parts"`
	} `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []contentPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// EditImage 调用图片编辑模型
func (c *Client) EditImage(ctx context.Context, req *EditImageRequest) (*EditImageResult, error) {
	parts := []contentPart{
		{Text: req.Instruction},
		{InlineData: &inlineData{
			MimeType: req.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}},
	}
	if len(req.Mask) > 0 {
		parts = append(parts, contentPart{InlineData: &inlineData{
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(req.Mask),
		}})
	}
	if len(req.SecondaryImage) > 0 {
		parts = append(parts, contentPart{InlineData: &inlineData{
			MimeType: req.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.SecondaryImage),
		}})
	}

	body := generateRequest{}
	body.Contents = append(body.Contents, struct {
		Parts []contentPart `json:"parts"`
	}{Parts: parts})

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/models/%s:generateContent", c.cfg.ImageModel))
	if err != nil {
		return nil, fmt.Errorf("调用生成服务失败: %w", err)
	}

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var genResp generateResponse
	if err := json.Unmarshal(resp.Body(), &genResp); err != nil {
		return nil, fmt.Errorf("解析生成服务响应失败: %w", err)
	}

	if genResp.PromptFeedback.BlockReason != "" {
		return nil, ErrContentPolicy
	}
	if len(genResp.Candidates) == 0 {
		return nil, ErrEmptyResult
	}
	if genResp.Candidates[0].FinishReason == "SAFETY" {
		return nil, ErrContentPolicy
	}

	result := &EditImageResult{}
	for _, part := range genResp.Candidates[0].Content.Parts {
		if part.InlineData != nil && result.Image == nil {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("解码生成图片失败: %w", err)
			}
			result.Image = data
			result.MimeType = part.InlineData.MimeType
		}
		if part.Text != "" {
			result.Text = part.Text
		}
	}

	if result.Image == nil && result.Text == "" {
		return nil, ErrEmptyResult
	}

	return result, nil
}

// GenerateVideoRequest 视频生成请求
type GenerateVideoRequest struct {
	Prompt   string
	Image    []byte // 可选：首帧参考图
	MimeType string
}

type videoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		VideoURI string `json:"videoUri"`
	} `json:"response"`
}

// GenerateVideo 提交视频生成任务并轮询至完成，返回视频下载地址
func (c *Client) GenerateVideo(ctx context.Context, req *GenerateVideoRequest) (string, error) {
	parts := []contentPart{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		parts = append(parts, contentPart{InlineData: &inlineData{
			MimeType: req.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}

	body := generateRequest{}
	body.Contents = append(body.Contents, struct {
		Parts []contentPart `json:"parts"`
	}{Parts: parts})

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/models/%s:predictLongRunning", c.cfg.VideoModel))
	if err != nil {
		return "", fmt.Errorf("提交视频生成任务失败: %w", err)
	}
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	var op videoOperation
	if err := json.Unmarshal(resp.Body(), &op); err != nil {
		return "", fmt.Errorf("解析视频任务响应失败: %w", err)
	}
	if op.Name == "" {
		return "", ErrEmptyResult
	}

	// 轮询任务状态
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		pollResp, err := c.http.R().
			SetContext(ctx).
			Get("/" + op.Name)
		if err != nil {
			return "", fmt.Errorf("查询视频任务状态失败: %w", err)
		}
		if err := c.checkStatus(pollResp); err != nil {
			return "", err
		}

		if err := json.Unmarshal(pollResp.Body(), &op); err != nil {
			return "", fmt.Errorf("解析视频任务状态失败: %w", err)
		}

		if op.Done {
			if op.Error != nil {
				return "", fmt.Errorf("视频生成失败: %s", op.Error.Message)
			}
			if op.Response.VideoURI == "" {
				return "", ErrEmptyResult
			}
			return op.Response.VideoURI, nil
		}
	}
}

func (c *Client) checkStatus(resp *resty.Response) error {
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case http.StatusBadRequest:
		// 安全策略拦截在部分模型上以 400 返回
		if jsonContains(resp.Body(), "SAFETY") || jsonContains(resp.Body(), "blocked") {
			return ErrContentPolicy
		}
		return fmt.Errorf("生成服务返回错误: %s", resp.String())
	default:
		return fmt.Errorf("生成服务返回 %d: %s", resp.StatusCode(), resp.String())
	}
}

func jsonContains(body []byte, keyword string) bool {
	return strings.Contains(strings.ToLower(string(body)), strings.ToLower(keyword))
}

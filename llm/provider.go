package llm

import (
	"context"
	"time"

	"github.com/contentflow/contentflow/types"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 一次模型调用请求
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse 模型调用响应
type ChatResponse struct {
	ID           string           `json:"id"`
	Model        string           `json:"model"`
	Content      string           `json:"content"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        types.TokenUsage `json:"usage"`
}

// HealthStatus Provider 健康状态
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 定义 LLM Provider 的统一接口
type Provider interface {
	// Name 返回 Provider 名称
	Name() string
	// Chat 执行一次非流式对话调用
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// HealthCheck 检查上游可用性
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

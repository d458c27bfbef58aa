package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/internal/queue"
	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 📨 事件驱动流水线
// =============================================================================
// 每个完成事件触发下一阶段。阶段失败时：可重试错误交给总线重投，
// 超过投递上限进入死信；不可重试错误直接标记项目失败并消费掉消息。
// =============================================================================

// transition 一个事件对应的阶段与完成后发布的事件
type transition struct {
	run  types.Status
	next string
}

// transitions 事件 -> 阶段映射
var transitions = map[string]transition{
	types.TopicProjectCreated:   {types.StatusResearching, types.TopicResearchComplete},
	types.TopicResearchComplete: {types.StatusGenerating, types.TopicContentGenerated},
	types.TopicContentGenerated: {types.StatusEditing, types.TopicEditingComplete},
	types.TopicEditingComplete:  {types.StatusSEOOptimizing, types.TopicSEOOptimized},
	types.TopicSEOOptimized:     {types.StatusReviewing, types.TopicReviewComplete},
	types.TopicReviewComplete:   {types.StatusMedia, types.TopicMediaComplete},
	types.TopicMediaComplete:    {types.StatusPublishing, ""},
}

// EventPipeline 事件驱动流水线
type EventPipeline struct {
	pipeline *Pipeline
	bus      *queue.Bus
	consumer string
	logger   *zap.Logger
}

// NewEventPipeline 创建事件驱动流水线
func NewEventPipeline(pipeline *Pipeline, bus *queue.Bus, consumer string, logger *zap.Logger) *EventPipeline {
	return &EventPipeline{
		pipeline: pipeline,
		bus:      bus,
		consumer: consumer,
		logger:   logger.With(zap.String("component", "event_pipeline")),
	}
}

// Start subscribes a consumer for every pipeline topic plus task failures.
func (e *EventPipeline) Start(ctx context.Context) error {
	for topic := range transitions {
		if err := e.bus.Subscribe(ctx, topic, e.consumer, e.handleStageEvent); err != nil {
			return err
		}
	}
	return e.bus.Subscribe(ctx, types.TopicTaskFailed, e.consumer, e.handleTaskFailed)
}

// Enqueue kicks off asynchronous generation for a project.
func (e *EventPipeline) Enqueue(ctx context.Context, projectID string) error {
	return e.bus.Publish(ctx, types.NewMessage(types.TopicProjectCreated, projectID, "created", nil))
}

// handleStageEvent 执行事件对应的阶段并发布后续事件
func (e *EventPipeline) handleStageEvent(ctx context.Context, msg *types.Message) error {
	tr, ok := transitions[msg.Topic]
	if !ok {
		e.logger.Error("unknown topic, dropping message", zap.String("topic", msg.Topic))
		return nil
	}

	proj, err := e.pipeline.store.Get(ctx, msg.ProjectID)
	if err != nil {
		return e.fail(ctx, msg, stageName[tr.run], err)
	}
	if proj.Status == types.StatusFailed || proj.Status == types.StatusCompleted {
		// 迟到或重复投递的事件
		return nil
	}

	if cont, reason := e.pipeline.shouldRun(proj, tr.run); !cont {
		e.logger.Info("stage gated off, completing project",
			zap.String("project_id", proj.ID),
			zap.String("stage", stageName[tr.run]),
			zap.String("reason", reason),
		)
		return e.pipeline.Complete(ctx, proj)
	}

	if err := e.pipeline.RunStage(ctx, proj, tr.run); err != nil {
		return e.fail(ctx, msg, stageName[tr.run], err)
	}

	if tr.next == "" {
		return e.pipeline.Complete(ctx, proj)
	}
	return e.bus.Publish(ctx, types.NewMessage(tr.next, proj.ID, stageName[tr.run], nil))
}

// fail 区分可重试与终态失败：
// 可重试错误返回给总线按投递策略重试，其余立即发布 task.failed。
func (e *EventPipeline) fail(ctx context.Context, msg *types.Message, stage string, cause error) error {
	if types.IsRetryable(cause) {
		return cause
	}

	failed := types.NewMessage(types.TopicTaskFailed, msg.ProjectID, stage, map[string]any{
		"error": cause.Error(),
	})
	if err := e.bus.Publish(ctx, failed); err != nil {
		e.logger.Error("failed to publish task failure", zap.Error(err))
		return cause
	}
	return nil
}

// handleTaskFailed 将项目标记为失败
func (e *EventPipeline) handleTaskFailed(ctx context.Context, msg *types.Message) error {
	proj, err := e.pipeline.store.Get(ctx, msg.ProjectID)
	if err != nil {
		return err
	}
	if proj.Status == types.StatusFailed || proj.Status == types.StatusCompleted {
		return nil
	}

	cause := types.NewError(types.ErrStageFailed, failureReason(msg)).WithStage(msg.Stage)
	e.pipeline.Fail(ctx, proj, msg.Stage, cause)
	return nil
}

func failureReason(msg *types.Message) string {
	if msg.Payload != nil {
		if s, ok := msg.Payload["error"].(string); ok && s != "" {
			return s
		}
	}
	return "stage failed"
}

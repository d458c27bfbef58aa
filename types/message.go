package types

import (
	"time"

	"github.com/google/uuid"
)

// Topic names for the pipeline event bus.
const (
	TopicProjectCreated   = "project.created"
	TopicResearchComplete = "research.complete"
	TopicContentGenerated = "content.generated"
	TopicEditingComplete  = "editing.complete"
	TopicSEOOptimized     = "seo.optimized"
	TopicReviewComplete   = "review.complete"
	TopicMediaComplete    = "media.complete"
	TopicTaskFailed       = "task.failed"
	TopicDeadLetter       = "dead.letter"
)

// Message is the envelope carried on the event bus between stages.
type Message struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	ProjectID string         `json:"project_id"`
	Stage     string         `json:"stage"`
	Payload   map[string]any `json:"payload,omitempty"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error,omitempty"`
	Enqueued  time.Time      `json:"enqueued"`
}

// NewMessage creates a message for a project stage event.
func NewMessage(topic, projectID, stage string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		ProjectID: projectID,
		Stage:     stage,
		Payload:   payload,
		Enqueued:  time.Now().UTC(),
	}
}

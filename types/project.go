package types

import "time"

// Status is the lifecycle stage of a content project.
type Status string

const (
	StatusCreated       Status = "created"
	StatusResearching   Status = "researching"
	StatusGenerating    Status = "generating"
	StatusEditing       Status = "editing"
	StatusSEOOptimizing Status = "seo_optimizing"
	StatusReviewing     Status = "reviewing"
	StatusMedia         Status = "media"
	StatusPublishing    Status = "publishing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// validTransitions 定义允许的状态迁移。
var validTransitions = map[Status][]Status{
	StatusCreated:       {StatusResearching, StatusFailed},
	StatusResearching:   {StatusGenerating, StatusFailed},
	StatusGenerating:    {StatusEditing, StatusFailed},
	StatusEditing:       {StatusSEOOptimizing, StatusFailed},
	StatusSEOOptimizing: {StatusReviewing, StatusCompleted, StatusFailed},
	StatusReviewing:     {StatusMedia, StatusCompleted, StatusFailed},
	StatusMedia:         {StatusPublishing, StatusCompleted, StatusFailed},
	StatusPublishing:    {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Costs accumulates per-stage spend in USD for one project.
type Costs struct {
	Research   float64 `bson:"research" json:"research"`
	Generation float64 `bson:"generation" json:"generation"`
	Editing    float64 `bson:"editing" json:"editing"`
	SEO        float64 `bson:"seo_optimization" json:"seo_optimization"`
	Review     float64 `bson:"review" json:"review"`
	Media      float64 `bson:"media" json:"media"`
	Publishing float64 `bson:"publishing" json:"publishing"`
	Total      float64 `bson:"total" json:"total"`
}

// StageError records a failure observed during a pipeline stage.
type StageError struct {
	Stage     string    `bson:"stage" json:"stage"`
	Code      ErrorCode `bson:"code" json:"code"`
	Message   string    `bson:"message" json:"message"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Project is the document persisted for each generation run.
type Project struct {
	ID        string         `bson:"_id" json:"id"`
	Topic     string         `bson:"topic" json:"topic"`
	Status    Status         `bson:"status" json:"status"`
	Research  map[string]any `bson:"research,omitempty" json:"research,omitempty"`
	Draft     map[string]any `bson:"draft,omitempty" json:"draft,omitempty"`
	Edited    map[string]any `bson:"edited,omitempty" json:"edited,omitempty"`
	SEO       map[string]any `bson:"seo,omitempty" json:"seo,omitempty"`
	Review    map[string]any `bson:"review,omitempty" json:"review,omitempty"`
	Media     map[string]any `bson:"media,omitempty" json:"media,omitempty"`
	Published map[string]any `bson:"published,omitempty" json:"published,omitempty"`
	Costs     Costs          `bson:"costs" json:"costs"`
	Errors    []StageError   `bson:"errors,omitempty" json:"errors,omitempty"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at" json:"updated_at"`
}

// PrimaryKeyword returns the SEO keyword recorded in project metadata.
func (p *Project) PrimaryKeyword() string {
	if p.Metadata == nil {
		return ""
	}
	if kw, ok := p.Metadata["primary_keyword"].(string); ok {
		return kw
	}
	return ""
}

// AddError appends a stage error to the project.
func (p *Project) AddError(stage string, err error) {
	se := StageError{
		Stage:     stage,
		Code:      GetErrorCode(err),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
	if se.Code == "" {
		se.Code = ErrStageFailed
	}
	p.Errors = append(p.Errors, se)
}

// AddCost records spend for a stage and keeps the total in sync.
func (p *Project) AddCost(stage string, amount float64) {
	switch stage {
	case "research":
		p.Costs.Research += amount
	case "generation", "content":
		p.Costs.Generation += amount
	case "editing":
		p.Costs.Editing += amount
	case "seo_optimization", "seo":
		p.Costs.SEO += amount
	case "review", "qa":
		p.Costs.Review += amount
	case "media", "image", "audio", "video":
		p.Costs.Media += amount
	case "publishing":
		p.Costs.Publishing += amount
	}
	p.Costs.Total += amount
}

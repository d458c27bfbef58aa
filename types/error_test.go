package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithStage("research")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	if !CanTransition(StatusCreated, StatusResearching) {
		t.Fatalf("created -> researching should be allowed")
	}
	if !CanTransition(StatusSEOOptimizing, StatusCompleted) {
		t.Fatalf("seo_optimizing -> completed should be allowed")
	}
	if CanTransition(StatusCompleted, StatusResearching) {
		t.Fatalf("completed is terminal")
	}
	if CanTransition(StatusCreated, StatusEditing) {
		t.Fatalf("stage skipping is not allowed")
	}
}

func TestProject_AddCostAndError(t *testing.T) {
	t.Parallel()

	p := &Project{ID: "p1", Topic: "go generics", Status: StatusCreated}
	p.AddCost("research", 0.002)
	p.AddCost("generation", 0.01)
	p.AddCost("seo", 0.001)

	if p.Costs.Research != 0.002 {
		t.Fatalf("research cost = %v", p.Costs.Research)
	}
	if p.Costs.Total != 0.013 {
		t.Fatalf("total cost = %v", p.Costs.Total)
	}

	p.AddError("editing", NewError(ErrTimeout, "model timed out"))
	if len(p.Errors) != 1 || p.Errors[0].Code != ErrTimeout {
		t.Fatalf("unexpected errors: %+v", p.Errors)
	}
	p.AddError("editing", errors.New("plain"))
	if p.Errors[1].Code != ErrStageFailed {
		t.Fatalf("plain errors default to STAGE_FAILED, got %s", p.Errors[1].Code)
	}
}

package core

import (
	"testing"
	"time"
)

func TestTaskLifecycle(t *testing.T) {
	now := time.Now()
	task := NewTask("task-1-plan", "plan", RoleArchitect, PhasePlan, PriorityCritical)
	if task.Status != TaskStatusPending {
		t.Fatalf("expected pending status")
	}
	if task.MaxRetries != DefaultMaxRetries {
		t.Fatalf("expected default retry budget, got %d", task.MaxRetries)
	}
	task.Start(now)
	if task.Status != TaskStatusInProgress || task.Attempts != 1 {
		t.Fatalf("expected in_progress after start")
	}
	task.Complete("done", now.Add(time.Second))
	if task.Status != TaskStatusCompleted || task.Result != "done" {
		t.Fatalf("expected completed with result")
	}
	if !task.Terminal() {
		t.Fatalf("completed task must be terminal")
	}
}

func TestTaskRetryRule(t *testing.T) {
	now := time.Now()
	task := NewTask("t", "d", RoleQAEngineer, PhaseTest, PriorityMedium)
	task.MaxRetries = 2

	for i := 0; i < 2; i++ {
		task.Start(now)
		if !task.Fail("boom", false, now) {
			t.Fatalf("failure %d should requeue", i+1)
		}
		if task.Status != TaskStatusPending {
			t.Fatalf("expected pending after retryable failure")
		}
	}
	task.Start(now)
	if task.Fail("boom", false, now) {
		t.Fatalf("third failure must not requeue")
	}
	if task.Status != TaskStatusFailed || task.RetryCount != 2 || !task.Terminal() {
		t.Fatalf("expected terminal failure with retryCount 2, got %s/%d", task.Status, task.RetryCount)
	}
}

func TestTaskFatalFailure(t *testing.T) {
	task := NewTask("t", "d", RoleQAEngineer, PhaseTest, PriorityMedium)
	task.Start(time.Now())
	if task.Fail("denied", true, time.Now()) {
		t.Fatalf("fatal failure must not requeue")
	}
	if !task.Fatal || !task.Terminal() || task.RetryCount != 0 {
		t.Fatalf("expected fatal terminal task without retries")
	}
}

func TestRolePhaseIsExhaustive(t *testing.T) {
	for _, role := range BuiltinRoles() {
		if !role.Builtin() {
			t.Fatalf("role %s not handled", role)
		}
	}
	if got := WorkerRole("astronaut").Phase(); got != PhaseSupport {
		t.Fatalf("unknown role should map to support, got %s", got)
	}
	if got := NormalizeRole(" Frontend_Developer "); got != RoleFrontendDeveloper {
		t.Fatalf("unexpected normalization %q", got)
	}
}

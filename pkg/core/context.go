package core

import "context"

type planIDKey struct{}
type taskIDKey struct{}

// WithPlanID attaches a plan id to the context.
func WithPlanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, planIDKey{}, id)
}

// PlanID returns the plan id if present.
func PlanID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(planIDKey{}).(string)
	return id, ok && id != ""
}

// WithTaskID attaches the id of the task being executed.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskID returns the task id if present.
func TaskID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok && id != ""
}

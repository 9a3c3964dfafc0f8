// Package context carries build tracing values through a workflow run
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

// Context keys for build tracing
const (
	buildIDKey ctxKey = iota
	imageKey
	stageKey
	startTimeKey
)

// WithBuildID adds a build ID to the context
func WithBuildID(parent context.Context, buildID string) context.Context {
	if buildID == "" {
		buildID = GenerateBuildID()
	}
	return context.WithValue(parent, buildIDKey, buildID)
}

// GetBuildID retrieves the build ID from context
func GetBuildID(ctx context.Context) string {
	if id, ok := ctx.Value(buildIDKey).(string); ok && id != "" {
		return id
	}
	return ""
}

// WithImage adds the image name being built to the context
func WithImage(parent context.Context, image string) context.Context {
	return context.WithValue(parent, imageKey, image)
}

// GetImage retrieves the image name from context
func GetImage(ctx context.Context) string {
	if image, ok := ctx.Value(imageKey).(string); ok {
		return image
	}
	return ""
}

// WithStage records the workflow stage ("stage", "build", "tag", "push", "remove")
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// GetStage retrieves the workflow stage from context
func GetStage(ctx context.Context) string {
	if stage, ok := ctx.Value(stageKey).(string); ok {
		return stage
	}
	return ""
}

// WithStartTime adds the run start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the run start time from context.
// The zero time is returned when none was recorded.
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// GetDuration calculates the time elapsed since the recorded start time
func GetDuration(ctx context.Context) time.Duration {
	start := GetStartTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// GenerateBuildID creates a new unique build ID
func GenerateBuildID() string {
	return "build_" + uuid.New().String()
}

// EnrichContext adds a build ID if missing and stamps the start time
func EnrichContext(parent context.Context) context.Context {
	ctx := parent

	if GetBuildID(ctx) == "" {
		ctx = WithBuildID(ctx, GenerateBuildID())
	}

	return WithStartTime(ctx, time.Now())
}

// TracingFields returns the tracing values present on ctx
func TracingFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{})
	if id := GetBuildID(ctx); id != "" {
		fields["build_id"] = id
	}
	if image := GetImage(ctx); image != "" {
		fields["image"] = image
	}
	if stage := GetStage(ctx); stage != "" {
		fields["stage"] = stage
	}
	if d := GetDuration(ctx); d > 0 {
		fields["duration_ms"] = d.Milliseconds()
	}
	return fields
}

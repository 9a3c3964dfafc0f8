package context_test

import (
	"context"
	"strings"
	"testing"
	"time"

	dcontext "github.com/poltergeist/dockerstage/pkg/context"
)

func TestBuildID(t *testing.T) {
	ctx := context.Background()
	if got := dcontext.GetBuildID(ctx); got != "" {
		t.Errorf("expected empty build id, got %q", got)
	}

	ctx = dcontext.WithBuildID(ctx, "")
	if !strings.HasPrefix(dcontext.GetBuildID(ctx), "build_") {
		t.Errorf("expected generated build id, got %q", dcontext.GetBuildID(ctx))
	}

	ctx = dcontext.WithBuildID(ctx, "fixed")
	if got := dcontext.GetBuildID(ctx); got != "fixed" {
		t.Errorf("expected fixed, got %q", got)
	}
}

func TestEnrichContext(t *testing.T) {
	ctx := dcontext.WithBuildID(context.Background(), "keep-me")
	ctx = dcontext.EnrichContext(ctx)

	if got := dcontext.GetBuildID(ctx); got != "keep-me" {
		t.Errorf("existing build id replaced: %q", got)
	}
	if dcontext.GetStartTime(ctx).IsZero() {
		t.Error("expected start time to be set")
	}
}

func TestTracingFields(t *testing.T) {
	ctx := context.Background()
	if fields := dcontext.TracingFields(ctx); len(fields) != 0 {
		t.Errorf("expected no fields, got %v", fields)
	}

	ctx = dcontext.WithBuildID(ctx, "b1")
	ctx = dcontext.WithImage(ctx, "example/app")
	ctx = dcontext.WithStage(ctx, "push")
	ctx = dcontext.WithStartTime(ctx, time.Now().Add(-time.Second))

	fields := dcontext.TracingFields(ctx)
	if fields["build_id"] != "b1" || fields["image"] != "example/app" || fields["stage"] != "push" {
		t.Errorf("unexpected fields %v", fields)
	}
	if ms, ok := fields["duration_ms"].(int64); !ok || ms < 1000 {
		t.Errorf("expected duration of at least 1000ms, got %v", fields["duration_ms"])
	}
}

func TestValuesDoNotOverwriteEachOther(t *testing.T) {
	start := time.Now()
	ctx := dcontext.WithBuildID(context.Background(), "build_123")
	ctx = dcontext.WithImage(ctx, "example/app")
	ctx = dcontext.WithStage(ctx, "stage")
	ctx = dcontext.WithStartTime(ctx, start)

	if got := dcontext.GetBuildID(ctx); got != "build_123" {
		t.Errorf("GetBuildID() = %q, want build_123", got)
	}
	if got := dcontext.GetImage(ctx); got != "example/app" {
		t.Errorf("GetImage() = %q, want example/app", got)
	}
	if got := dcontext.GetStage(ctx); got != "stage" {
		t.Errorf("GetStage() = %q, want stage", got)
	}
	if got := dcontext.GetStartTime(ctx); !got.Equal(start) {
		t.Errorf("GetStartTime() = %v, want %v", got, start)
	}
}

func TestEnrichContext_GeneratesBuildIDAfterImage(t *testing.T) {
	ctx := dcontext.WithImage(context.Background(), "example/app")
	ctx = dcontext.EnrichContext(ctx)

	if id := dcontext.GetBuildID(ctx); !strings.HasPrefix(id, "build_") {
		t.Errorf("expected generated build id, got %q", id)
	}
}

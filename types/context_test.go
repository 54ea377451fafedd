package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithRoles(ctx, []string{"governance-admin"})
	if got, ok := Roles(ctx); !ok || len(got) != 1 || got[0] != "governance-admin" {
		t.Fatalf("Roles mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := TraceID(ctx); ok {
		t.Fatalf("expected no trace id")
	}
	if _, ok := Roles(WithRoles(ctx, nil)); ok {
		t.Fatalf("expected empty roles to report missing")
	}
}

package logging_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/samirrijal/geoincidence/internal/pkg/logging"
)

func TestFromContext(t *testing.T) {
	if got := logging.FromContext(context.Background()); got != slog.Default() {
		t.Error("expected default logger when none is stored")
	}

	l := logging.New("debug", "text").With("request_id", "abc")
	ctx := logging.WithLogger(context.Background(), l)
	if got := logging.FromContext(ctx); got != l {
		t.Error("expected stored logger")
	}
}

func TestNew_Level(t *testing.T) {
	l := logging.New("warn", "json")
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !l.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

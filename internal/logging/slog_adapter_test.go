// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newCaptureSlogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	zl := zerolog.New(buf).Level(zerolog.DebugLevel)
	return slog.New(NewSlogHandlerWithLogger(zl)), buf
}

func TestSlogHandler_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *slog.Logger)
		level string
	}{
		{"debug", func(l *slog.Logger) { l.Debug("msg") }, "debug"},
		{"info", func(l *slog.Logger) { l.Info("msg") }, "info"},
		{"warn", func(l *slog.Logger) { l.Warn("msg") }, "warn"},
		{"error", func(l *slog.Logger) { l.Error("msg") }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newCaptureSlogger()
			tt.log(logger)
			if !strings.Contains(buf.String(), `"level":"`+tt.level+`"`) {
				t.Errorf("expected level %q in output, got %s", tt.level, buf.String())
			}
		})
	}
}

func TestSlogHandler_Attributes(t *testing.T) {
	logger, buf := newCaptureSlogger()

	logger.Info("service started",
		slog.String("service", "document-workers"),
		slog.Int("attempt", 2),
		slog.Bool("restarted", true),
		slog.Duration("backoff", 15*time.Second),
	)

	out := buf.String()
	for _, want := range []string{
		`"service":"document-workers"`,
		`"attempt":2`,
		`"restarted":true`,
		`"message":"service started"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got %s", want, out)
		}
	}
}

func TestSlogHandler_WithAttrs(t *testing.T) {
	logger, buf := newCaptureSlogger()

	child := logger.With(slog.String("supervisor", "pipeline-layer"))
	child.Info("child message")

	if !strings.Contains(buf.String(), `"supervisor":"pipeline-layer"`) {
		t.Errorf("expected inherited attribute, got %s", buf.String())
	}
}

func TestSlogHandler_WithGroup(t *testing.T) {
	logger, buf := newCaptureSlogger()

	grouped := logger.WithGroup("tree")
	grouped.Info("grouped", slog.String("name", "circulapp"))

	if !strings.Contains(buf.String(), `"tree.name":"circulapp"`) {
		t.Errorf("expected dotted group key, got %s", buf.String())
	}
}

func TestSlogHandler_Enabled(t *testing.T) {
	zl := zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel)
	h := NewSlogHandlerWithLogger(zl)

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestNewSlogLogger(t *testing.T) {
	if NewSlogLogger() == nil {
		t.Fatal("NewSlogLogger returned nil")
	}
	if NewSlogLoggerWithLevel("debug") == nil {
		t.Fatal("NewSlogLoggerWithLevel returned nil")
	}
}

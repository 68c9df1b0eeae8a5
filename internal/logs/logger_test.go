package logs

import (
	"context"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type buffer struct {
	strings.Builder
}

func TestDefaultLogger_Level(t *testing.T) {
	buf := &buffer{}
	l := NewLogger(buf, Warn)
	ctx := context.Background()
	l.Info(ctx, "hidden %d", 1)
	l.Warn(ctx, "shown %d", 2)
	out := buf.String()
	assert.Equal(t, false, strings.Contains(out, "hidden"))
	assert.Equal(t, true, strings.Contains(out, "shown 2"))
	assert.Equal(t, true, strings.Contains(out, "[WARN]"))
}

func TestDefaultLogger_Fields(t *testing.T) {
	buf := &buffer{}
	l := NewLogger(buf, Debug)
	ctx := WithField(context.Background(), "task", "t-1")
	ctx = WithField(ctx, "stage", "execute")
	l.Debug(ctx, "msg")
	assert.Equal(t, true, strings.HasSuffix(buf.String(), "msg stage=execute task=t-1\n"))
	assert.Equal(t, 0, len(Fields(context.Background())))
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("debug")
	assert.Equal(t, Debug, level)
	assert.Equal(t, true, ok)
	level, ok = ParseLevel("Warning")
	assert.Equal(t, Warn, level)
	assert.Equal(t, true, ok)
	level, ok = ParseLevel("loud")
	assert.Equal(t, Info, level)
	assert.Equal(t, false, ok)
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(core))
	ctx := WithField(context.Background(), "task", "t-1")
	l.Error(ctx, "failed %v", "badly")
	entries := logs.All()
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, "failed badly", entries[0].Message)
	assert.Equal(t, "t-1", entries[0].ContextMap()["task"])
}

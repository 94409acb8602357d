package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTraceQuery_SlowOperationLogged(t *testing.T) {
	var buf bytes.Buffer
	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	_, end := TraceQuery(context.Background(), SystemRedis, "cart.replace", "WATCH/MULTI")
	time.Sleep(time.Millisecond)
	end(errors.New("connection reset"))

	out := buf.String()
	assert.Contains(t, out, "slow store operation")
	assert.Contains(t, out, "cart.replace")
	assert.Contains(t, out, "connection reset")
}

func TestTraceQuery_DisabledByDefault(t *testing.T) {
	var buf bytes.Buffer
	SetSlowQueryLogging(0, slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	_, end := TraceQuery(context.Background(), SystemPostgres, "order.create", "INSERT")
	end(nil)

	assert.Empty(t, buf.String())
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards the log sink against the delivery goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSlogLoggerDeliversEvents(t *testing.T) {
	var sink syncBuffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&sink, nil)))

	l.Record(context.Background(), Event{
		EventType: "validate",
		LicenseID: "lic-1",
		SiteURL:   "https://one.example.com",
		IP:        "203.0.113.9",
		Outcome:   "success",
	})
	l.Close()

	out := sink.String()
	require.NotEmpty(t, out)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(out, "\n", 2)[0]), &record))
	assert.Equal(t, "validation event", record["msg"])
	assert.Equal(t, "validate", record["event_type"])
	assert.Equal(t, "lic-1", record["license_id"])
	assert.Equal(t, "success", record["outcome"])
	assert.Equal(t, "audit", record["component"])
}

func TestSlogLoggerStampsMissingTimestamp(t *testing.T) {
	var sink syncBuffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&sink, nil)))

	before := time.Now().UTC()
	l.Record(context.Background(), Event{EventType: "validate"})
	l.Close()

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(sink.String(), "\n", 2)[0]), &record))
	ts, err := time.Parse(time.RFC3339Nano, record["timestamp"].(string))
	require.NoError(t, err)
	assert.False(t, ts.Before(before.Truncate(time.Second)))
}

func TestSlogLoggerCloseDrains(t *testing.T) {
	var sink syncBuffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&sink, nil)))

	for i := 0; i < 100; i++ {
		l.Record(context.Background(), Event{EventType: "validate", Outcome: "success"})
	}
	l.Close()

	assert.Equal(t, 100, strings.Count(sink.String(), "validation event"))
	assert.Zero(t, l.Dropped())
}

package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
)

func TestFormatFilename(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 2, 123456000, time.UTC)
	tests := []struct {
		template string
		want     string
	}{
		{template: defaultTemplate, want: "events_2024_03_07_09_05_02_123456.dat"},
		{template: "%Y%m%d-%H%M%S.log", want: "20240307-090502.log"},
		{template: "100%%_%q", want: "100%_%q"},
		{template: "trailing%", want: "trailing%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFilename(tt.template, ts), tt.template)
	}
}

type recordingCallback struct {
	rolled []string
}

func (r *recordingCallback) Name() string { return "recording" }

func (r *recordingCallback) Rolled(_ context.Context, path string) error {
	r.rolled = append(r.rolled, path)
	return nil
}

func newManager(t *testing.T, cfg config.ShoeboxConfig, cb Callback) *RollManager {
	t.Helper()
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = t.TempDir()
	}
	m, err := NewRollManager(cfg, cb, logger.NopLogger())
	require.NoError(t, err)
	return m
}

func TestRollManagerRollsOnSize(t *testing.T) {
	cb := &recordingCallback{}
	m := newManager(t, config.ShoeboxConfig{FilenameTemplate: "events_%f.dat"}, cb)
	m.rollSize = 10
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, []byte(`{"a":1}`)))
	assert.Empty(t, cb.rolled)
	active := m.ActiveFile()
	require.NotEmpty(t, active)

	require.NoError(t, m.Write(ctx, []byte(`{"b":2}`)))
	require.Len(t, cb.rolled, 1)
	assert.Equal(t, active, cb.rolled[0])
	assert.Empty(t, m.ActiveFile())

	content, err := os.ReadFile(cb.rolled[0])
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(content))
}

func TestRollManagerRollsOnAge(t *testing.T) {
	cb := &recordingCallback{}
	m := newManager(t, config.ShoeboxConfig{RollMinutes: 5}, cb)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, []byte("x")))
	now = now.Add(4 * time.Minute)
	require.NoError(t, m.Write(ctx, []byte("y")))
	assert.Empty(t, cb.rolled)

	now = now.Add(time.Minute)
	require.NoError(t, m.Write(ctx, []byte("z")))
	assert.Len(t, cb.rolled, 1)
}

func TestRollManagerCloseRollsActiveFile(t *testing.T) {
	cb := &recordingCallback{}
	m := newManager(t, config.ShoeboxConfig{}, cb)
	ctx := context.Background()

	require.NoError(t, m.Close(ctx))
	assert.Empty(t, cb.rolled)

	require.NoError(t, m.Write(ctx, []byte("x")))
	require.NoError(t, m.Close(ctx))
	assert.Len(t, cb.rolled, 1)
}

func TestMoveCallback(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "archive")
	cb, err := NewMoveCallback(dest)
	require.NoError(t, err)

	m := newManager(t, config.ShoeboxConfig{}, cb)
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, []byte("event")))
	name := filepath.Base(m.ActiveFile())
	require.NoError(t, m.Roll(ctx))

	content, err := os.ReadFile(filepath.Join(dest, name))
	require.NoError(t, err)
	assert.Equal(t, "event\n", string(content))
}

type memObject struct {
	bytes.Buffer
	closed bool
}

func (o *memObject) Close() error {
	o.closed = true
	return nil
}

type memBucket struct {
	objects map[string]*memObject
}

func (b *memBucket) NewObjectWriter(_ context.Context, bucket, object string) io.WriteCloser {
	o := &memObject{}
	b.objects[bucket+"/"+object] = o
	return o
}

func TestGCSCallbackUploadsAndRemoves(t *testing.T) {
	bucket := &memBucket{objects: map[string]*memObject{}}
	cb := NewGCSCallback(bucket, "usage-archive", "relay/dfw")

	m := newManager(t, config.ShoeboxConfig{FilenameTemplate: "events.dat"}, cb)
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, []byte(`{"event_type":"compute.instance.exists"}`)))
	local := m.ActiveFile()
	require.NoError(t, m.Roll(ctx))

	obj, ok := bucket.objects["usage-archive/relay/dfw/events.dat"]
	require.True(t, ok)
	assert.True(t, obj.closed)
	assert.True(t, strings.Contains(obj.String(), "compute.instance.exists"))

	_, err := os.Stat(local)
	assert.True(t, os.IsNotExist(err))
}

func TestNewCallback(t *testing.T) {
	ctx := context.Background()

	cb, err := NewCallback(ctx, config.ShoeboxConfig{DestinationFolder: t.TempDir()}, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, CallbackMove, cb.Name())

	cb, err = NewCallback(ctx, config.ShoeboxConfig{Callback: CallbackNone}, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, CallbackNone, cb.Name())

	_, err = NewCallback(ctx, config.ShoeboxConfig{Callback: "ftp"}, logger.NopLogger())
	assert.Error(t, err)
}

package badger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
	"github.com/haukened/oneshot/internal/store/storetest"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBackendContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return openInMemory(t) })
}

func TestOnDiskReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	id, _ := domain.NewID()
	require.NoError(t, s.Insert(context.Background(), id.String(), []byte("durable")))
	require.NoError(t, s.Close())

	s2, err := Open(Options{Dir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(context.Background(), id.String())
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)

	n, err := s2.Maintain(context.Background(), time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
}

func TestMaintainInMemory(t *testing.T) {
	s := openInMemory(t)
	n, err := s.Maintain(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPingAfterClose(t *testing.T) {
	s, err := Open(Options{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := slogAdapter{log: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	a.Errorf("e %d\n", 1)
	a.Warningf("w %s", "x")
	a.Infof("i")
	a.Debugf("d")
	out := buf.String()
	for _, want := range []string{"level=ERROR msg=\"e 1\"", "level=WARN msg=\"w x\"", "level=INFO msg=i", "level=DEBUG msg=d"} {
		assert.True(t, strings.Contains(out, want), "missing %q in %q", want, out)
	}
}

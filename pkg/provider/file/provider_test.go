package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobrunner/pkg/provider"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return p
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: "  "})
	assert.Error(t, err)
}

func TestNew_CreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sink")
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	st, err := os.Stat(p.BaseDir())
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestPutObject(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	body := "hello run log\n"

	require.NoError(t, p.PutObject(ctx, "etl-logs/orders/run.log", strings.NewReader(body), int64(len(body))))

	got, err := os.ReadFile(filepath.Join(p.BaseDir(), "etl-logs", "orders", "run.log"))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	entries, err := os.ReadDir(filepath.Join(p.BaseDir(), "etl-logs", "orders"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPutObject_ZeroByteMarker(t *testing.T) {
	p := newTestProvider(t)

	require.NoError(t, p.PutObject(context.Background(), "x/_SUCCESS", bytes.NewReader(nil), 0))
	st, err := os.Stat(filepath.Join(p.BaseDir(), "x", "_SUCCESS"))
	require.NoError(t, err)
	assert.Zero(t, st.Size())
}

func TestPutObject_ShortWrite(t *testing.T) {
	p := newTestProvider(t)
	err := p.PutObject(context.Background(), "x/short", strings.NewReader("abc"), 10)
	assert.ErrorContains(t, err, "short write")
	_, err = os.Stat(filepath.Join(p.BaseDir(), "x", "short"))
	assert.True(t, os.IsNotExist(err))
}

func TestPutObject_CancelledContext(t *testing.T) {
	p := newTestProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.PutObject(ctx, "x/y", strings.NewReader("a"), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFullPath_BlocksTraversal(t *testing.T) {
	p := newTestProvider(t)

	full, err := p.fullPath("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, p.BaseDir()))

	_, err = p.fullPath("/")
	assert.ErrorIs(t, err, provider.ErrInvalidKey)
}

func TestURI(t *testing.T) {
	p := newTestProvider(t)
	uri := p.URI("etl-logs/orders/run.log")
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "/etl-logs/orders/run.log"))
	assert.Equal(t, provider.ProviderFile, p.Type())
}

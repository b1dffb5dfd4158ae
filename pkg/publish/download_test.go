package publish

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/entrhq/rednote/pkg/types"
)

func TestDownloadKeepsInputOrder(t *testing.T) {
	srv := imageServer(t)
	d, err := NewDownloader(2, time.Second, nil)
	require.NoError(t, err)
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	var logs []string
	rep := types.NewReporter(0, types.Listener{OnLog: func(m string) { logs = append(logs, m) }}, nil)
	urls := []string{srv.URL + "/one.webp", srv.URL + "/missing.png", srv.URL + "/three.jpeg"}

	paths, err := d.Download(context.Background(), urls, scratch, rep)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, ".webp", filepath.Ext(paths[0]))
	assert.Empty(t, paths[1])
	assert.Equal(t, ".jpeg", filepath.Ext(paths[2]))

	body, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(body))
	assert.Len(t, scratch.Files(), 2)
	assert.Equal(t, []string{
		"Downloaded image (1/3): one.webp",
		"Failed to download image " + urls[1],
		"Downloaded image (2/3): three.jpeg",
	}, logs)

	require.NoError(t, scratch.Cleanup())
	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadCancelled(t *testing.T) {
	srv := imageServer(t)
	d, err := NewDownloader(1, time.Second, nil)
	require.NoError(t, err)
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Download(ctx, []string{srv.URL + "/a.png"}, scratch, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadRetryEndsEverySpan(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(srv.Close)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	d, err := NewDownloader(1, time.Second, nil)
	require.NoError(t, err)
	d.tracer = provider.Tracer("download-test")
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	paths, err := d.Download(context.Background(), []string{srv.URL + "/flaky.png"}, scratch, nil)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.NotEmpty(t, paths[0], "the retry must succeed")
	assert.Equal(t, int32(2), calls.Load())

	assert.Len(t, recorder.Started(), 1)
	ended := recorder.Ended()
	require.Len(t, ended, 1, "every started span must end")
	assert.Equal(t, "download "+srv.URL+"/flaky.png", ended[0].Name())
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://img.example/a.png"))
	assert.True(t, IsRemote("http://img.example/a.png"))
	assert.False(t, IsRemote("/tmp/a.png"))
	assert.False(t, IsRemote("C:\\photos\\a.png"))
}

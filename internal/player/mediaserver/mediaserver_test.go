package mediaserver

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*Server, string, string) {
	t.Helper()
	contentDir := t.TempDir()
	splashDir := t.TempDir()
	s := New(contentDir, splashDir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx, 0)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("media server did not bind")
	}
	return s, contentDir, splashDir
}

func TestServesCachedContent(t *testing.T) {
	s, contentDir, _ := startTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(contentDir, "a.jpg"), []byte("jpegbytes"), 0o644))

	resp, err := http.Get(s.ContentURL("a.jpg"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(body))
}

func TestSplashAndContentAreSeparateRoots(t *testing.T) {
	s, _, splashDir := startTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(splashDir, "logo.png"), []byte("png"), 0o644))

	resp, err := http.Get(s.SplashURL("logo.png"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.ContentURL("logo.png"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMissingFileIs404(t *testing.T) {
	s, _, _ := startTestServer(t)
	resp, err := http.Get(s.ContentURL("nope.jpg"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTraversalIsRejected(t *testing.T) {
	s, contentDir, _ := startTestServer(t)
	secret := filepath.Join(filepath.Dir(contentDir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top"), 0o644))

	resp, err := http.Get(s.BaseURL() + "/content/..%2Fsecret.txt")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

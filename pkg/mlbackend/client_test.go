package mlbackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"watermark-gateway/internal/testsupport"
	"watermark-gateway/pkg/apperror"
	"watermark-gateway/pkg/watermark"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, baseURL string, expectedBits int) (*Client, string) {
	t.Helper()
	scratch := t.TempDir()
	c, err := NewClient(Config{
		BaseURL:      baseURL,
		EmbedPath:    testsupport.EmbedPath,
		ExtractPath:  testsupport.ExtractPath,
		ScratchDir:   scratch,
		ExpectedBits: expectedBits,
	}, nil)
	require.NoError(t, err)
	return c, scratch
}

func scratchFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "watermarked-*"))
	require.NoError(t, err)
	return matches
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	backend := testsupport.NewFakeMLBackend(t)
	backend.SetEmbed([]float64{0.9, 0.1, 0.8, 0.2}, http.StatusOK)

	c, _ := newClient(t, backend.URL(), 0)
	video := testsupport.MinimalMP4([]byte("source frames"))
	src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", video)

	res, err := c.Embed(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, watermark.BitVector{0.9, 0.1, 0.8, 0.2}, res.Bits)

	got, err := os.ReadFile(res.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, video, got)
}

func TestEmbedBackendError(t *testing.T) {
	backend := testsupport.NewFakeMLBackend(t)
	backend.SetEmbed(nil, http.StatusServiceUnavailable)

	c, scratch := newClient(t, backend.URL(), 0)
	src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", []byte("video"))

	_, err := c.Embed(context.Background(), src)

	var backendErr *apperror.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, http.StatusServiceUnavailable, backendErr.StatusCode)
	assert.Contains(t, err.Error(), "503")
	assert.Empty(t, scratchFiles(t, scratch))
}

func TestEmbedMissingParts(t *testing.T) {
	tests := []struct {
		name      string
		omitVideo bool
		omitBits  bool
		want      string
	}{
		{"no video", true, false, "watermarked video"},
		{"no bits", false, true, "message bits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testsupport.NewFakeMLBackend(t)
			backend.SetEmbed([]float64{1, 0}, http.StatusOK)
			backend.OmitEmbedParts(tt.omitVideo, tt.omitBits)

			c, scratch := newClient(t, backend.URL(), 0)
			src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", []byte("video"))

			_, err := c.Embed(context.Background(), src)

			var protocolErr *apperror.ProtocolError
			require.True(t, errors.As(err, &protocolErr))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, scratchFiles(t, scratch))
		})
	}
}

func TestEmbedRejectsUnexpectedLength(t *testing.T) {
	backend := testsupport.NewFakeMLBackend(t)
	backend.SetEmbed([]float64{1, 0, 1}, http.StatusOK)

	c, _ := newClient(t, backend.URL(), 4)
	src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", []byte("video"))

	_, err := c.Embed(context.Background(), src)
	var protocolErr *apperror.ProtocolError
	assert.True(t, errors.As(err, &protocolErr))
}

func TestEmbedNonMultipartReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL, 0)
	src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", []byte("video"))

	_, err := c.Embed(context.Background(), src)
	var protocolErr *apperror.ProtocolError
	assert.True(t, errors.As(err, &protocolErr))
}

func TestEmbedTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newClient(t, url, 0)
	src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", []byte("video"))

	_, err := c.Embed(context.Background(), src)
	var transportErr *apperror.TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestEmbedTimeout(t *testing.T) {
	backend := testsupport.NewFakeMLBackend(t)
	backend.SetEmbed([]float64{1}, http.StatusOK)
	release := backend.HoldEmbeds()
	defer release()

	scratch := t.TempDir()
	c, err := NewClient(Config{
		BaseURL:     backend.URL(),
		EmbedPath:   testsupport.EmbedPath,
		ExtractPath: testsupport.ExtractPath,
		ScratchDir:  scratch,
		Timeout:     50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	src := testsupport.WriteFile(t, t.TempDir(), "in.mp4", []byte("video"))

	_, err = c.Embed(context.Background(), src)
	var transportErr *apperror.TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestExtract(t *testing.T) {
	backend := testsupport.NewFakeMLBackend(t)
	backend.SetExtract([]float64{0.91, 0.12, 0.79, 0.18}, http.StatusOK)

	c, _ := newClient(t, backend.URL(), 0)
	src := testsupport.WriteFile(t, t.TempDir(), "probe.mp4", []byte("probe"))

	bits, err := c.Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, watermark.BitVector{0.91, 0.12, 0.79, 0.18}, bits)

	_, extracts := backend.Calls()
	assert.Equal(t, 1, extracts)
}

func TestExtractErrors(t *testing.T) {
	t.Run("backend status", func(t *testing.T) {
		backend := testsupport.NewFakeMLBackend(t)
		backend.SetExtract(nil, http.StatusInternalServerError)
		c, _ := newClient(t, backend.URL(), 0)
		src := testsupport.WriteFile(t, t.TempDir(), "probe.mp4", []byte("probe"))

		_, err := c.Extract(context.Background(), src)
		var backendErr *apperror.BackendError
		require.True(t, errors.As(err, &backendErr))
		assert.Equal(t, http.StatusInternalServerError, backendErr.StatusCode)
	})

	t.Run("empty bits", func(t *testing.T) {
		backend := testsupport.NewFakeMLBackend(t)
		backend.SetExtract([]float64{}, http.StatusOK)
		c, _ := newClient(t, backend.URL(), 0)
		src := testsupport.WriteFile(t, t.TempDir(), "probe.mp4", []byte("probe"))

		_, err := c.Extract(context.Background(), src)
		var protocolErr *apperror.ProtocolError
		assert.True(t, errors.As(err, &protocolErr))
	})

	t.Run("missing file", func(t *testing.T) {
		c, _ := newClient(t, "http://127.0.0.1:1", 0)
		_, err := c.Extract(context.Background(), filepath.Join(t.TempDir(), "absent.mp4"))
		assert.Error(t, err)
	})
}

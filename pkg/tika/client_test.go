package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"study-gateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF", string(body))
		_, _ = w.Write([]byte("Cell biology basics"))
	}))
	defer srv.Close()

	text, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).ExtractText(context.Background(), "notes.pdf", []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, "Cell biology basics", text)
}

func TestExtractText_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).ExtractText(context.Background(), "x.bin", nil)

	assert.ErrorContains(t, err, "422")
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMimeType("a.pdf"))
	assert.Equal(t, "application/octet-stream", detectMimeType("noext"))
}

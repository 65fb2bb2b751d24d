package ingest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeLoader records what the engine receives and returns a scripted
// result.
type fakeLoader struct {
	received []byte
	ref      string
	err      error
}

func (f *fakeLoader) LoadImage(input io.Reader) (string, error) {
	data, err := io.ReadAll(input)
	f.received = data
	if err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

// makeTar builds a minimal real tar archive.
func makeTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("FROM scratch\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "manifest.json",
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func makeGzipTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(makeTar(t))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// errReader fails after serving its prefix.
type errReader struct {
	data []byte
	err  error
	off  int
}

func (e *errReader) Read(p []byte) (int, error) {
	if e.off >= len(e.data) {
		return 0, e.err
	}
	n := copy(p, e.data[e.off:])
	e.off += n
	return n, nil
}

// =============================================================================
// Framing Tests
// =============================================================================

func TestFramingFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        Framing
	}{
		{"application/x-tar", FramingTar},
		{"application/gzip", FramingGzip},
		{"application/x-gzip", FramingGzip},
		{"application/gzip; charset=binary", FramingGzip},
		{"application/octet-stream", FramingTar},
		{"", FramingTar},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FramingFromContentType(tt.contentType), tt.contentType)
	}
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_PlainTar(t *testing.T) {
	archive := makeTar(t)
	loader := &fakeLoader{ref: "sha256:abc"}

	ref, err := Load(context.Background(), loader, bytes.NewReader(archive), FramingTar)
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", ref)
	assert.Equal(t, archive, loader.received, "engine must receive the archive byte-for-byte")
}

func TestLoad_GzipTar(t *testing.T) {
	loader := &fakeLoader{ref: "sha256:def"}

	ref, err := Load(context.Background(), loader, bytes.NewReader(makeGzipTar(t)), FramingGzip)
	require.NoError(t, err)
	assert.Equal(t, "sha256:def", ref)
	assert.Equal(t, makeTar(t), loader.received, "engine must receive the decompressed archive")
}

func TestLoad_NotATar(t *testing.T) {
	loader := &fakeLoader{ref: "sha256:abc"}
	junk := strings.Repeat("this is not an archive ", 100)

	_, err := Load(context.Background(), loader, strings.NewReader(junk), FramingTar)
	require.Error(t, err)

	var ingErr *Error
	require.True(t, errors.As(err, &ingErr))
	assert.Equal(t, "framing", ingErr.Stage)
	assert.Nil(t, loader.received, "engine must not be invoked for a malformed stream")
}

func TestLoad_TruncatedStream(t *testing.T) {
	loader := &fakeLoader{ref: "sha256:abc"}

	_, err := Load(context.Background(), loader, strings.NewReader("short"), FramingTar)
	require.Error(t, err)

	var ingErr *Error
	require.True(t, errors.As(err, &ingErr))
	assert.Equal(t, "framing", ingErr.Stage)
}

func TestLoad_NotGzip(t *testing.T) {
	loader := &fakeLoader{}

	_, err := Load(context.Background(), loader, bytes.NewReader(makeTar(t)), FramingGzip)
	require.Error(t, err)

	var ingErr *Error
	require.True(t, errors.As(err, &ingErr))
	assert.Equal(t, "gzip", ingErr.Stage)
}

func TestLoad_TruncatedGzip(t *testing.T) {
	loader := &fakeLoader{ref: "sha256:abc"}
	archive := makeGzipTar(t)

	// Enough for the gzip header and the first tar block, then cut.
	_, err := Load(context.Background(), loader, bytes.NewReader(archive[:len(archive)-8]), FramingGzip)
	require.Error(t, err)

	var ingErr *Error
	assert.True(t, errors.As(err, &ingErr))
}

func TestLoad_ReadFailureMidStream(t *testing.T) {
	loader := &fakeLoader{ref: "sha256:abc"}
	archive := makeTar(t)
	readErr := errors.New("connection reset by peer")

	_, err := Load(context.Background(), loader, &errReader{data: archive[:600], err: readErr}, FramingTar)
	require.Error(t, err)

	var ingErr *Error
	require.True(t, errors.As(err, &ingErr))
	assert.Equal(t, "read", ingErr.Stage)
	assert.True(t, errors.Is(err, readErr))
}

func TestLoad_EngineRejects(t *testing.T) {
	engineErr := errors.New("invalid manifest")
	loader := &fakeLoader{err: engineErr}

	_, err := Load(context.Background(), loader, bytes.NewReader(makeTar(t)), FramingTar)
	require.Error(t, err)

	var ingErr *Error
	require.True(t, errors.As(err, &ingErr))
	assert.Equal(t, "load", ingErr.Stage)
	assert.True(t, errors.Is(err, engineErr))
}

func TestLoad_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := &fakeLoader{ref: "sha256:abc"}
	_, err := Load(ctx, loader, bytes.NewReader(makeTar(t)), FramingTar)
	require.Error(t, err)

	var ingErr *Error
	require.True(t, errors.As(err, &ingErr))
	assert.True(t, errors.Is(err, context.Canceled))
}

// Package ingest streams an uploaded image archive into the container
// engine.
//
// The pipeline accepts a tar or gzip-wrapped tar byte stream, validates
// its framing, and pipes it directly into the engine's image load
// primitive. Memory use is bounded by a fixed chunk size regardless of
// archive size; the archive is never buffered in full. Every failure
// mode (stream read, decompression, engine rejection of the archive)
// surfaces as *Error.
package ingest

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
)

// chunkSize caps the bytes handed to the engine per read.
const chunkSize = 512 * 1024

// tar header geometry: the ustar magic sits at offset 257 of the first
// 512-byte block.
const (
	tarBlockSize   = 512
	tarMagicOffset = 257
	tarMagic       = "ustar"
)

// =============================================================================
// Framing
// =============================================================================

// Framing declares how the inbound archive stream is wrapped.
type Framing int

const (
	// FramingTar is a plain tar archive.
	FramingTar Framing = iota

	// FramingGzip is a gzip-compressed tar archive.
	FramingGzip
)

func (f Framing) String() string {
	if f == FramingGzip {
		return "gzip"
	}
	return "tar"
}

// FramingFromContentType derives the framing from the request's
// explicit Content-Type. Only the gzip media types select gzip framing;
// everything else is treated as plain tar. Content is never sniffed to
// pick a framing.
func FramingFromContentType(contentType string) Framing {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "application/gzip", "application/x-gzip":
		return FramingGzip
	default:
		return FramingTar
	}
}

// =============================================================================
// Error Type
// =============================================================================

// Error is an ingest failure: a malformed or truncated archive, a
// failed stream read, or the engine rejecting the archive content.
type Error struct {
	Stage string // "read", "gzip", "framing", "load"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// =============================================================================
// Pipeline
// =============================================================================

// Loader is the single engine capability the pipeline needs. Satisfied
// by docker.Client.
type Loader interface {
	LoadImage(input io.Reader) (imageRef string, err error)
}

// Load streams the archive into the engine and returns the loaded image
// reference. The stream is read cooperatively: every read observes ctx
// and can fail partway through, and any such failure aborts the load
// with *Error. No partial image is ever reported as loaded.
func Load(ctx context.Context, engine Loader, body io.Reader, framing Framing) (string, error) {
	src := &streamReader{ctx: ctx, r: body}

	var archive io.Reader = src
	if framing == FramingGzip {
		gz, err := gzip.NewReader(src)
		if err != nil {
			if src.err != nil {
				return "", &Error{Stage: "read", Err: src.err}
			}
			return "", &Error{Stage: "gzip", Err: err}
		}
		defer gz.Close()
		archive = gz
	}

	archive, err := checkTarFraming(archive)
	if err != nil {
		if src.err != nil {
			return "", &Error{Stage: "read", Err: src.err}
		}
		return "", err
	}

	tap := &streamReader{ctx: ctx, r: archive}
	ref, err := engine.LoadImage(tap)
	if err != nil {
		// Distinguish our own stream failures from the engine
		// rejecting the archive; both are ingest failures.
		if src.err != nil {
			return "", &Error{Stage: "read", Err: src.err}
		}
		if tap.err != nil {
			return "", &Error{Stage: "gzip", Err: tap.err}
		}
		return "", &Error{Stage: "load", Err: err}
	}

	return ref, nil
}

// checkTarFraming peeks the first tar block and verifies the ustar
// magic, returning a reader that replays the peeked bytes. A stream
// shorter than one block cannot be a tar archive.
func checkTarFraming(r io.Reader) (io.Reader, error) {
	header := make([]byte, tarBlockSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &Error{Stage: "framing", Err: fmt.Errorf("archive truncated after %d bytes", n)}
		}
		return nil, &Error{Stage: "read", Err: err}
	}

	magic := string(header[tarMagicOffset : tarMagicOffset+len(tarMagic)])
	if magic != tarMagic {
		return nil, &Error{Stage: "framing", Err: fmt.Errorf("stream is not a tar archive")}
	}

	return io.MultiReader(strings.NewReader(string(header)), r), nil
}

// streamReader is a cancel-aware reader with bounded reads and partial
// read accounting. It records the first failure it observes so the
// pipeline can attribute engine-side aborts to the inbound stream.
type streamReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
	err error
}

func (s *streamReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return 0, err
	}
	if len(p) > chunkSize {
		p = p[:chunkSize]
	}
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

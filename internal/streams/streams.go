// Package streams provides the byte-stream primitives the gateway moves file
// content through: sized readers, digest tees, cutoff enforcement, temp-file
// spooling and stall detection.
//
// A Stream is a single-pass byte source with a declared length. Wrappers
// compose: a backend response body can be wrapped in a hash tee, bounded by a
// cutoff and guarded by an inactivity watchdog without any of the layers
// buffering the payload. Nothing in this package holds a whole file in
// memory; the only buffering is the shared copy-buffer pool.
package streams

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portagehq/portage/internal/errdefs"
)

// SizeUnknown marks a stream whose length cannot be declared up front.
const SizeUnknown int64 = -1

// Stream is a single-pass byte source with a declared size. Size returns
// SizeUnknown when the length is not known before consumption.
type Stream interface {
	io.ReadCloser
	Size() int64
}

// Restarter is implemented by streams that can be consumed again from the
// beginning, such as spooled temp files.
type Restarter interface {
	Restart() error
}

type reader struct {
	r    io.Reader
	c    io.Closer
	size int64
}

func (s *reader) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *reader) Size() int64 { return s.size }

func (s *reader) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

// NewReader wraps a plain reader into a Stream with a declared size.
func NewReader(r io.Reader, size int64) Stream {
	return &reader{r: r, size: size}
}

// NewReadCloser wraps a ReadCloser into a Stream, closing the source when
// the stream is closed.
func NewReadCloser(rc io.ReadCloser, size int64) Stream {
	return &reader{r: rc, c: rc, size: size}
}

// NewBytes builds an in-memory Stream, mainly for tests and tiny payloads.
func NewBytes(b []byte) Stream {
	return &reader{r: bytes.NewReader(b), size: int64(len(b))}
}

// NewResponseStream adapts a backend HTTP response body. The size comes from
// Content-Length; chunked responses report SizeUnknown.
func NewResponseStream(resp *http.Response) Stream {
	return &reader{r: resp.Body, c: resp.Body, size: resp.ContentLength}
}

// FileStream is a restartable Stream over an open file. Closing the stream
// closes the file.
type FileStream struct {
	f    *os.File
	size int64
}

// NewFileStream wraps an open file; the size comes from Stat.
func NewFileStream(f *os.File) (*FileStream, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	return &FileStream{f: f, size: info.Size()}, nil
}

func (s *FileStream) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *FileStream) Size() int64 { return s.size }

func (s *FileStream) Close() error { return s.f.Close() }

// Restart rewinds to the beginning for another full pass.
func (s *FileStream) Restart() error {
	_, err := s.f.Seek(0, io.SeekStart)
	return err
}

// Spool drains src into a temporary file and returns a restartable Stream of
// known size over it, plus a cleanup that removes the file. Used only when a
// destination demands a known length and the source cannot declare one; the
// caller owns calling cleanup after the returned stream is closed.
func Spool(src Stream) (Stream, func(), error) {
	f, err := os.CreateTemp("", "portage-spool-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create spool file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := Copy(f, src); err != nil {
		f.Close()
		cleanup()
		return nil, nil, fmt.Errorf("spool to %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		cleanup()
		return nil, nil, err
	}

	fs, err := NewFileStream(f)
	if err != nil {
		f.Close()
		cleanup()
		return nil, nil, err
	}
	return fs, cleanup, nil
}

// CutoffStream yields exactly n bytes from the source. A source that ends
// early fails the read with UploadIncomplete; bytes beyond n are left
// unconsumed.
type CutoffStream struct {
	src  Stream
	want int64
	read int64
}

// NewCutoffStream bounds src to exactly n bytes.
func NewCutoffStream(src Stream, n int64) *CutoffStream {
	return &CutoffStream{src: src, want: n}
}

func (s *CutoffStream) Read(p []byte) (int, error) {
	remaining := s.want - s.read
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.src.Read(p)
	s.read += int64(n)
	if err == io.EOF && s.read < s.want {
		return n, errdefs.UploadIncomplete("stream ended after %d of %d declared bytes", s.read, s.want)
	}
	return n, err
}

func (s *CutoffStream) Size() int64 { return s.want }

func (s *CutoffStream) Close() error { return s.src.Close() }

// hashers maps the digest names the gateway understands to constructors.
// Names are lowercase and appear verbatim as metadata hash keys.
var hashers = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
}

// HashStream tees bytes through one or more running digests as they are
// consumed. Sums is meaningful only after the stream has been fully read.
type HashStream struct {
	src     Stream
	digests map[string]hash.Hash
	w       io.Writer
	n       int64
}

// NewHashStream wraps src with the named digest algorithms; with none given
// it defaults to sha256. Unknown algorithm names fail.
func NewHashStream(src Stream, algos ...string) (*HashStream, error) {
	if len(algos) == 0 {
		algos = []string{"sha256"}
	}
	digests := make(map[string]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, name := range algos {
		mk, ok := hashers[name]
		if !ok {
			return nil, fmt.Errorf("unsupported hash algorithm %q", name)
		}
		if _, dup := digests[name]; dup {
			continue
		}
		h := mk()
		digests[name] = h
		writers = append(writers, h)
	}
	return &HashStream{src: src, digests: digests, w: io.MultiWriter(writers...)}, nil
}

func (s *HashStream) Read(p []byte) (int, error) {
	n, err := s.src.Read(p)
	if n > 0 {
		// Hash writers never error.
		s.w.Write(p[:n])
		s.n += int64(n)
	}
	return n, err
}

// BytesRead reports how many payload bytes have passed through so far.
func (s *HashStream) BytesRead() int64 { return s.n }

func (s *HashStream) Size() int64 { return s.src.Size() }

func (s *HashStream) Close() error { return s.src.Close() }

// Sums returns the lowercase hex digest per algorithm consumed so far.
func (s *HashStream) Sums() map[string]string {
	out := make(map[string]string, len(s.digests))
	for name, h := range s.digests {
		out[name] = hex.EncodeToString(h.Sum(nil))
	}
	return out
}

// idleStream aborts a transfer whose reads stall: each successful Read arms
// the watchdog again; if it fires, the abort hook runs (typically a context
// cancel that tears down the backend request) and subsequent reads fail.
type idleStream struct {
	src   Stream
	d     time.Duration
	timer *time.Timer
	mu    sync.Mutex
	fired bool
}

// WithInactivityTimeout guards src with a per-read deadline. Transfers are
// bounded by inactivity rather than total duration, so a slow but moving
// multi-gigabyte copy survives while a stalled one is torn down.
func WithInactivityTimeout(src Stream, d time.Duration, abort func()) Stream {
	if d <= 0 {
		return src
	}
	s := &idleStream{src: src, d: d}
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.fired = true
		s.mu.Unlock()
		if abort != nil {
			abort()
		}
	})
	return s
}

func (s *idleStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	fired := s.fired
	s.mu.Unlock()
	if fired {
		return 0, errdefs.ProviderError("transfer stalled: no data for %s", s.d)
	}

	n, err := s.src.Read(p)

	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return n, errdefs.ProviderError("transfer stalled: no data for %s", s.d)
	}
	s.timer.Reset(s.d)
	s.mu.Unlock()
	return n, err
}

func (s *idleStream) Size() int64 { return s.src.Size() }

func (s *idleStream) Close() error {
	s.timer.Stop()
	return s.src.Close()
}

// DefaultCopyBufferSize is the pooled copy-buffer size unless overridden at
// startup.
const DefaultCopyBufferSize = 64 * 1024

var copyBufSize atomic.Int64

// SetCopyBufferSize overrides the pooled copy-buffer size. Call once at
// startup, before any transfer runs; sizes below 4 KiB are ignored.
func SetCopyBufferSize(n int64) {
	if n >= 4096 {
		copyBufSize.Store(n)
	}
}

// copyBufPool recycles copy buffers across concurrent transfers to keep GC
// pressure flat under load.
var copyBufPool = sync.Pool{
	New: func() any {
		size := copyBufSize.Load()
		if size <= 0 {
			size = DefaultCopyBufferSize
		}
		buf := make([]byte, size)
		return &buf
	},
}

// Copy moves bytes from src to dst through a pooled buffer and returns the
// byte count.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

package streams

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/errdefs"
)

func TestNewBytes_SizeAndContent(t *testing.T) {
	t.Parallel()

	s := NewBytes([]byte("hello"))
	assert.Equal(t, int64(5), s.Size())

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	require.NoError(t, s.Close())
}

func TestHashStream_DigestsWhileReading(t *testing.T) {
	t.Parallel()

	payload := []byte("the quick brown fox")
	hs, err := NewHashStream(NewBytes(payload), "sha256", "md5")
	require.NoError(t, err)

	got, err := io.ReadAll(hs)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	want := sha256.Sum256(payload)
	sums := hs.Sums()
	assert.Equal(t, hex.EncodeToString(want[:]), sums["sha256"])
	assert.Len(t, sums["md5"], 32)
	assert.Equal(t, strings.ToLower(sums["md5"]), sums["md5"], "digests are lowercase hex")
}

func TestHashStream_DefaultsToSHA256(t *testing.T) {
	t.Parallel()

	hs, err := NewHashStream(NewBytes([]byte("x")))
	require.NoError(t, err)
	_, err = io.ReadAll(hs)
	require.NoError(t, err)

	sums := hs.Sums()
	require.Len(t, sums, 1)
	assert.Contains(t, sums, "sha256")
}

func TestHashStream_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := NewHashStream(NewBytes(nil), "crc32")
	assert.Error(t, err)
}

func TestCutoffStream_ExactLength(t *testing.T) {
	t.Parallel()

	s := NewCutoffStream(NewBytes([]byte("0123456789")), 4)
	assert.Equal(t, int64(4), s.Size())

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))
}

func TestCutoffStream_TruncatedSource(t *testing.T) {
	t.Parallel()

	s := NewCutoffStream(NewBytes([]byte("abc")), 10)
	_, err := io.ReadAll(s)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUploadIncomplete, errdefs.KindOf(err))
}

func TestFileStream_Restart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("restartable"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)

	fs, err := NewFileStream(f)
	require.NoError(t, err)
	defer fs.Close()
	assert.Equal(t, int64(len("restartable")), fs.Size())

	first, err := io.ReadAll(fs)
	require.NoError(t, err)
	require.NoError(t, fs.Restart())
	second, err := io.ReadAll(fs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSpool_UnknownSizeBecomesKnown(t *testing.T) {
	t.Parallel()

	src := NewReader(strings.NewReader("spooled content"), SizeUnknown)
	spooled, cleanup, err := Spool(src)
	require.NoError(t, err)
	defer cleanup()
	defer spooled.Close()

	assert.Equal(t, int64(len("spooled content")), spooled.Size())
	got, err := io.ReadAll(spooled)
	require.NoError(t, err)
	assert.Equal(t, "spooled content", string(got))

	_, ok := spooled.(Restarter)
	assert.True(t, ok, "spooled streams support another pass")
}

func TestWithInactivityTimeout_PassesMovingData(t *testing.T) {
	t.Parallel()

	s := WithInactivityTimeout(NewBytes([]byte("steady")), time.Second, nil)
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "steady", string(got))
	require.NoError(t, s.Close())
}

// stallReader blocks reads until released, simulating a hung backend.
type stallReader struct{ release chan struct{} }

func (r *stallReader) Read(p []byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func TestWithInactivityTimeout_AbortsStalledTransfer(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	aborted := make(chan struct{})
	s := WithInactivityTimeout(
		NewReader(&stallReader{release: release}, SizeUnknown),
		10*time.Millisecond,
		func() { close(aborted); close(release) },
	)
	defer s.Close()

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	_, err := io.ReadAll(s)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindProviderError, errdefs.KindOf(err))
}

func TestCopy_MovesAllBytes(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("portage"), 100_000)
	var dst bytes.Buffer
	n, err := Copy(&dst, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, dst.Bytes())
}

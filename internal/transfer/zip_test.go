package transfer

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/paths"
)

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(content)
	}
	return out
}

func TestEngine_ZipFolderSubtree(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.put("a.txt", "top level")
	p.mkdir("sub/")
	p.put("sub/b.txt", "nested")

	z, err := New(Options{}).Zip(context.Background(), p, paths.Root())
	require.NoError(t, err)
	data, err := io.ReadAll(z)
	require.NoError(t, err)
	require.NoError(t, z.Close())

	entries := readArchive(t, data)
	require.Len(t, entries, 3)
	assert.Equal(t, "top level", entries["a.txt"])
	assert.Contains(t, entries, "sub/")
	assert.Equal(t, "nested", entries["sub/b.txt"])
}

func TestEngine_ZipNamesAreRelativeToRoot(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.mkdir("docs/")
	p.put("docs/report.txt", "content")

	z, err := New(Options{}).Zip(context.Background(), p, mustPath(t, "/docs/"))
	require.NoError(t, err)
	data, err := io.ReadAll(z)
	require.NoError(t, err)

	entries := readArchive(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, "content", entries["report.txt"], "the zipped folder itself is not a member")
}

func TestEngine_ZipEmptyFolder(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.mkdir("empty/")

	z, err := New(Options{}).Zip(context.Background(), p, mustPath(t, "/empty/"))
	require.NoError(t, err)
	data, err := io.ReadAll(z)
	require.NoError(t, err)

	assert.Empty(t, readArchive(t, data), "an empty folder yields a valid empty archive")
}

func TestEngine_ZipRequiresFolder(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.put("a.txt", "x")

	_, err := New(Options{}).Zip(context.Background(), p, mustPath(t, "/a.txt"))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindInvalidArgument, errdefs.KindOf(err))
}

func TestEngine_ZipMemberOrderIgnoresBackendListingOrder(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.reverseList = true
	p.put("zebra.txt", "z")
	p.put("alpha.txt", "a")
	p.mkdir("middle/")
	p.put("middle/inner.txt", "i")

	z, err := New(Options{}).Zip(context.Background(), p, paths.Root())
	require.NoError(t, err)
	data, err := io.ReadAll(z)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"alpha.txt", "middle/", "middle/inner.txt", "zebra.txt"}, names)
}

func TestEngine_ZipAbortsOnUnreadableChild(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.mkdir("docs/")
	p.put("docs/report.txt", "content")
	p.failDownload = "docs/report.txt"

	z, err := New(Options{}).Zip(context.Background(), p, mustPath(t, "/docs/"))
	require.NoError(t, err)

	_, err = io.ReadAll(z)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindProviderError, errdefs.KindOf(err))
}

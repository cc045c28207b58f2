package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/paths"
)

func mustPath(t *testing.T, raw string) paths.Path {
	t.Helper()
	p, err := paths.New(raw)
	require.NoError(t, err)
	return p
}

func TestToJSONAPI_File(t *testing.T) {
	t.Parallel()

	modified := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	file := &File{
		Name:        "report.txt",
		Path:        mustPath(t, "/docs/report.txt"),
		Provider:    "s3",
		Size:        1024,
		ContentType: "text/plain",
		Modified:    modified,
		ETag:        "abc123",
		Hashes:      map[string]string{"sha256": "deadbeef"},
	}

	j := ToJSONAPI(file, "res1", "http://gw.example")

	assert.Equal(t, "s3/docs/report.txt", j.ID)
	assert.Equal(t, "files", j.Type)
	assert.Equal(t, "file", j.Attributes["kind"])
	assert.Equal(t, "report.txt", j.Attributes["name"])
	assert.Equal(t, "/docs/report.txt", j.Attributes["path"])
	assert.Equal(t, int64(1024), j.Attributes["size"])
	assert.Equal(t, "2026-03-14T09:26:53Z", j.Attributes["modified"])
	assert.Nil(t, j.Attributes["created"])
	assert.Equal(t, map[string]string{"sha256": "deadbeef"}, j.Attributes["hashes"])

	entity := "http://gw.example/v1/resources/res1/providers/s3/docs/report.txt"
	assert.Equal(t, entity, j.Links["self"])
	assert.Equal(t, entity, j.Links["download"])
	assert.Equal(t, entity, j.Links["move"])
	assert.Equal(t, entity, j.Links["delete"])
	assert.Equal(t, entity+"?kind=file", j.Links["upload"])
	assert.NotContains(t, j.Links, "new_folder", "files cannot contain folders")
}

func TestToJSONAPI_FolderKeepsTrailingSlash(t *testing.T) {
	t.Parallel()

	folder := &Folder{
		Name:     "photos",
		Path:     mustPath(t, "/photos/"),
		Provider: "filesystem",
	}

	j := ToJSONAPI(folder, "res1", "http://gw.example")

	assert.Equal(t, "filesystem/photos/", j.ID)
	assert.Equal(t, "folders", j.Type)
	assert.Nil(t, j.Attributes["size"])

	entity := "http://gw.example/v1/resources/res1/providers/filesystem/photos/"
	assert.Equal(t, entity, j.Links["self"])
	assert.Equal(t, entity+"?kind=folder", j.Links["new_folder"])
	assert.Equal(t, entity+"?kind=file", j.Links["upload"])
	assert.NotContains(t, j.Links, "download")
}

func TestToJSONAPI_UnknownSizeIsNull(t *testing.T) {
	t.Parallel()

	file := &File{
		Name:     "blob",
		Path:     mustPath(t, "/blob"),
		Provider: "azureblob",
		Size:     SizeUnknown,
	}
	j := ToJSONAPI(file, "r", "http://gw")
	assert.Nil(t, j.Attributes["size"])
}

func TestSaltETag_HidesBackendValidator(t *testing.T) {
	t.Parallel()

	want := sha256.Sum256([]byte(`s3::"0x8DD"`))
	assert.Equal(t, hex.EncodeToString(want[:]), SaltETag("s3", `"0x8DD"`))
	assert.NotEqual(t, SaltETag("s3", "tag"), SaltETag("azureblob", "tag"),
		"same backend etag on different providers must differ")
	assert.Empty(t, SaltETag("s3", ""))
}

func TestEntityURL_EscapesSegments(t *testing.T) {
	t.Parallel()

	p := mustPath(t, "/some folder/a+b.txt")
	got := EntityURL("http://gw", "res 1", "filesystem", p)
	assert.Equal(t, "http://gw/v1/resources/res%201/providers/filesystem/some%20folder/a+b.txt", got)
}

func TestRevisionJSONAPI_Shape(t *testing.T) {
	t.Parallel()

	rev := Revision{
		Version:  "v7",
		Modified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Author:   "ada",
	}
	j := RevisionJSONAPI(rev)

	assert.Equal(t, "v7", j.ID)
	assert.Equal(t, "file_versions", j.Type)
	assert.Equal(t, "v7", j.Attributes["version"])
	assert.Equal(t, "ada", j.Attributes["author"])
	assert.Empty(t, j.Links)
}

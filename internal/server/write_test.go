package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/auth"
)

// newDirectGateway builds a server for in-process dispatch, which is the
// only way to shape degenerate requests (no Content-Length, no chunking)
// that a real client refuses to send.
func newDirectGateway(t *testing.T) *Server {
	t.Helper()
	return New(Options{
		Auth: auth.NewStatic("", auth.Identity{}, map[string]auth.StaticProvider{
			"filesystem": {Settings: map[string]any{"folder": t.TempDir()}},
		}),
	})
}

func TestPut_KindValidation(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	resp := doRequest(t, http.MethodPut,
		ts.URL+"/v1/resources/proj/providers/filesystem/?kind=banana&name=x",
		strings.NewReader("body"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeError(t, resp)
	assert.Contains(t, env.Message, "kind must be file, folder or unspecified")
	assert.Contains(t, env.Message, "banana")
}

func TestPut_FileWithoutLength_411(t *testing.T) {
	t.Parallel()
	srv := newDirectGateway(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/resources/proj/providers/filesystem/?kind=file&name=x", nil)
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusLengthRequired, rec.Code)
}

func TestPut_ChunkedUploadIsAccepted(t *testing.T) {
	t.Parallel()
	srv := newDirectGateway(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/resources/proj/providers/filesystem/?kind=file&name=c.txt", strings.NewReader("chunked bytes"))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPut_FolderWithBody_413(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	resp := doRequest(t, http.MethodPut,
		ts.URL+"/v1/resources/proj/providers/filesystem/?kind=folder&name=docs",
		strings.NewReader("unexpected"))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	env := decodeError(t, resp)
	assert.Contains(t, env.Message, "may not have a body")
}

func TestPut_FolderPathRequiresName(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	resp := doRequest(t, http.MethodPut, ts.URL+"/v1/resources/proj/providers/filesystem/?kind=folder", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeError(t, resp)
	assert.Contains(t, env.Message, "missing required parameter 'name'")
}

func TestPut_FilePathForbidsName(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	uploadFile(t, ts.URL, "proj", "filesystem", "/", "solo.txt", []byte("x"))

	resp := doRequest(t, http.MethodPut,
		ts.URL+"/v1/resources/proj/providers/filesystem/solo.txt?name=other",
		strings.NewReader("y"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeError(t, resp)
	assert.Contains(t, env.Message, "doesn't apply to actions on files")
}

func TestPut_KindFolderOnFilePath_409(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	uploadFile(t, ts.URL, "proj", "filesystem", "/", "plain.txt", []byte("x"))

	req, err := http.NewRequest(http.MethodPut,
		ts.URL+"/v1/resources/proj/providers/filesystem/plain.txt?kind=folder", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	env := decodeError(t, resp)
	assert.Contains(t, env.Message, "must be a folder")
}

func TestCreateFolder_ThenConflict(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	resp := doRequest(t, http.MethodPut, ts.URL+"/v1/resources/proj/providers/filesystem/?kind=folder&name=docs", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env entityEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "folders", env.Data.Type)
	assert.Equal(t, "/docs/", env.Data.Attributes["path"])

	resp = doRequest(t, http.MethodPut, ts.URL+"/v1/resources/proj/providers/filesystem/?kind=folder&name=docs", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPut_UploadIntoMissingFolder_404(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	resp := doRequest(t, http.MethodPut,
		ts.URL+"/v1/resources/proj/providers/filesystem/nowhere/?kind=file&name=x.txt",
		strings.NewReader("x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete_File(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	uploadFile(t, ts.URL, "proj", "filesystem", "/", "gone.txt", []byte("x"))

	resp := doRequest(t, http.MethodDelete, ts.URL+"/v1/resources/proj/providers/filesystem/gone.txt", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/resources/proj/providers/filesystem/gone.txt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete_RootRequiresConfirmation(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	uploadFile(t, ts.URL, "proj", "filesystem", "/", "keepsake.txt", []byte("x"))

	resp := doRequest(t, http.MethodDelete, ts.URL+"/v1/resources/proj/providers/filesystem/", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/v1/resources/proj/providers/filesystem/?confirm_delete=1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The root itself survives, emptied.
	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/resources/proj/providers/filesystem/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env listEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Empty(t, env.Data)
}

func TestDelete_ConfirmMustBeInteger(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestGateway(t, Options{})

	resp := doRequest(t, http.MethodDelete, ts.URL+"/v1/resources/proj/providers/filesystem/?confirm_delete=yes", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeError(t, resp)
	assert.Contains(t, env.Message, "must be an integer")
}

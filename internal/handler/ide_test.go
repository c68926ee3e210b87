package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uploadIde posts one installer build through the public upload endpoint.
func uploadIde(t *testing.T, srv *httptest.Server, project, version, osType, arch, binName string, changelog string) *http.Response {
	t.Helper()
	meta, err := json.Marshal(map[string]string{
		"sub_product_name": project,
		"version":          version,
		"os_type":          osType,
		"arch":             arch,
	})
	require.NoError(t, err)

	files := map[string][2][]byte{
		"binary": {[]byte(binName), []byte("installer-bytes")},
		"meta":   {[]byte(binName + ".json"), meta},
	}
	if changelog != "" {
		files["changelog"] = [2][]byte{[]byte("changelog.md"), []byte(changelog)}
	}
	return postMultipart(t, srv.URL+"/api/ide/upload", files, nil)
}

func TestIdeUploadAndReleases(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadIde(t, srv, "myide", "1.0.0", "linux", "x64", "myide-1.0.0.tar.gz", "# 1.0.0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "linux-x64", data["platform"])
	assert.Equal(t, "ide/myide/1.0.0/linux-x64/myide-1.0.0.tar.gz", data["binary_rel_path"])
	assert.Equal(t, true, data["changelog_written"])

	// Same coordinates again is a conflict, nothing is overwritten.
	resp = uploadIde(t, srv, "myide", "1.0.0", "linux", "x64", "myide-1.0.0.tar.gz", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/ide/releases?project=myide")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON(t, resp)
	releases := body["data"].(map[string]any)["releases"].([]any)
	require.Len(t, releases, 1)
	r0 := releases[0].(map[string]any)
	assert.Equal(t, "1.0.0", r0["tag"])
	assert.Equal(t, false, r0["is_latest"])
	assert.NotNil(t, r0["published_at"])

	resp, err = http.Get(srv.URL + "/api/ide/releases?project=ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFailedDependency, resp.StatusCode)
	resp.Body.Close()
}

func TestIdeUploadValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// meta filename must be binary filename + ".json"
	meta, _ := json.Marshal(map[string]string{
		"sub_product_name": "myide", "version": "1.0.0", "os_type": "linux", "arch": "x64",
	})
	resp := postMultipart(t, srv.URL+"/api/ide/upload", map[string][2][]byte{
		"binary": {[]byte("a.tar.gz"), []byte("x")},
		"meta":   {[]byte("b.tar.gz.json"), meta},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Contains(t, body["errorMessage"], "meta filename")

	// required meta fields checked in order
	meta, _ = json.Marshal(map[string]string{"sub_product_name": "myide", "version": "1.0.0"})
	resp = postMultipart(t, srv.URL+"/api/ide/upload", map[string][2][]byte{
		"binary": {[]byte("a.tar.gz"), []byte("x")},
		"meta":   {[]byte("a.tar.gz.json"), meta},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Equal(t, "Missing required meta field: os_type", body["errorMessage"])

	// meta must be a JSON object
	resp = postMultipart(t, srv.URL+"/api/ide/upload", map[string][2][]byte{
		"binary": {[]byte("a.tar.gz"), []byte("x")},
		"meta":   {[]byte("a.tar.gz.json"), []byte(`[1]`)},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Equal(t, "meta must be a JSON object", body["errorMessage"])
}

func TestIdeLatest(t *testing.T) {
	srv, _ := newTestServer(t)
	uploadIde(t, srv, "myide", "1.0.0", "linux", "x64", "myide-1.0.0.tar.gz", "").Body.Close()
	uploadIde(t, srv, "myide", "2.0.0", "linux", "x64", "myide-2.0.0.tar.gz", "").Body.Close()

	// Before the pointer is set there is no latest.
	resp, err := http.Get(srv.URL + "/api/ide/latest?sub_product_name=myide&os_type=linux&arch=x64")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFailedDependency, resp.StatusCode)
	resp.Body.Close()

	postForm(t, srv.URL, "/admin/make-latest",
		map[string]string{"category": "ide", "project": "myide", "version": "2.0.0"}).Body.Close()

	resp, err = http.Get(srv.URL + "/api/ide/latest?sub_product_name=myide&os_type=linux&arch=x64&current_version=1.0.0")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["available"])
	assert.Equal(t, "2.0.0", data["version"])
	assert.Equal(t, "1.0.0", data["requested_current_version"])
	url := data["url"].(string)
	assert.Contains(t, url, "/api/releases/file/ide/myide/2.0.0/linux-x64/myide-2.0.0.tar.gz")
	// The payload is mirrored under both keys.
	assert.Equal(t, data["url"], body["result"].(map[string]any)["url"])

	// The download link actually resolves.
	resp, err = http.Get(url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// OS aliases normalize to the same platform token.
	resp, err = http.Get(srv.URL + "/api/ide/latest?sub_product_name=myide&os_type=Linux&arch=amd64")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// No build for the platform, and never a fallback.
	resp, err = http.Get(srv.URL + "/api/ide/latest?sub_product_name=myide&os_type=windows&arch=x64")
	require.NoError(t, err)
	require.Equal(t, http.StatusFailedDependency, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Contains(t, body["errorMessage"], "platform=win32-x64")

	resp, err = http.Get(srv.URL + "/api/ide/latest?sub_product_name=myide&os_type=linux")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/ide/latest?sub_product_name=ghost&os_type=linux&arch=x64")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFailedDependency, resp.StatusCode)
	resp.Body.Close()
}

func TestIdeChangelog(t *testing.T) {
	srv, _ := newTestServer(t)
	uploadIde(t, srv, "myide", "1.0.0", "linux", "x64", "a.tar.gz", "# Version 1.0.0").Body.Close()

	resp, err := http.Get(srv.URL + "/api/ide/changelog?project=myide&version=1.0.0")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "# Version 1.0.0", string(data))

	// Exactly one of version / latest=1.
	resp, err = http.Get(srv.URL + "/api/ide/changelog?project=myide&version=1.0.0&latest=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/ide/changelog?project=myide")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	postForm(t, srv.URL, "/admin/make-latest",
		map[string]string{"category": "ide", "project": "myide", "version": "1.0.0"}).Body.Close()
	resp, err = http.Get(srv.URL + "/api/ide/changelog?project=myide&latest=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// A version without a changelog is a plain-text 404.
	uploadIde(t, srv, "myide", "2.0.0", "linux", "x64", "b.tar.gz", "").Body.Close()
	resp, err = http.Get(srv.URL + "/api/ide/changelog?project=myide&version=2.0.0")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), "changelog.md not found")
}

func TestAdminIdeInvalid(t *testing.T) {
	srv, cfg := newTestServer(t)

	// A binary with no metadata sidecar is indexed as invalid.
	dir := filepath.Join(cfg.Storage.Path, "ide", "brokenide", "1.0.0", "linux-x64")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar.gz"), []byte("x"), 0644))
	postForm(t, srv.URL, "/admin/rebuild-index", map[string]string{"category": "ide"}).Body.Close()

	resp, err := http.Get(srv.URL + "/admin/ide/invalid?project=brokenide")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	invalid := body["data"].(map[string]any)["invalid"].([]any)
	require.Len(t, invalid, 1)
	row := invalid[0].(map[string]any)
	assert.Equal(t, "no_meta_json", row["invalid_reason"])
	assert.Equal(t, "linux-x64", row["platform"])

	// Invalid versions never show up in the public listing.
	resp, err = http.Get(srv.URL + "/api/ide/releases?project=brokenide")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Empty(t, body["data"].(map[string]any)["releases"])
}

package obsfs

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetDirReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/source/foo", r.URL.Path)
		w.Write([]byte(`<directory/>`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	body, err := client.GetDir("/source/foo")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "<directory/>", string(data))
}

func TestClientGetFileAppendsRevQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("file bytes"))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	body, _, err := client.GetFile("/source/foo/bar.spec", "7")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "rev=7", gotQuery)
}

func TestClientGetFileWithoutRevHasNoQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("file bytes"))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	body, _, err := client.GetFile("/source/foo/bar.spec", "")
	require.NoError(t, err)
	defer body.Close()
	assert.Empty(t, gotQuery)
}

func TestClientGetDirErrorMapsStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<status code="unknown_project"><summary>no such project</summary></status>`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	_, err = client.GetDir("/source/nope")
	assert.Equal(t, syscall.ENOENT, err)
}

func TestClientDeleteParsesStatusResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`<status code="delete_project_no_permission"/>`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	err = client.Delete("/source/foo")
	assert.Equal(t, syscall.EPERM, err)
}

func TestClientCookiesRoundTripThroughFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "authtoken", Value: "abc123"})
		w.Write([]byte(`<directory/>`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	body, err := client.GetDir("/source/foo")
	require.NoError(t, err)
	body.Close()

	cookiePath := filepath.Join(t.TempDir(), "cookies")
	require.NoError(t, client.SaveCookies(cookiePath))

	reloaded, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)
	require.NoError(t, reloaded.LoadCookies(cookiePath))

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cookies := reloaded.httpClient.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "authtoken", cookies[0].Name)
	assert.Equal(t, "abc123", cookies[0].Value)
}

func TestClientLoadCookiesMissingFileIsNotAnError(t *testing.T) {
	client, err := NewClient("http://example.invalid", "alice", "secret", testLogger())
	require.NoError(t, err)

	err = client.LoadCookies(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, err)
}

func TestClientSendsBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok = r.BasicAuth()
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "alice", "secret", testLogger())
	require.NoError(t, err)

	body, err := client.GetDir("/source/foo")
	require.NoError(t, err)
	body.Close()

	require.True(t, ok)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "secret", gotPass)
}

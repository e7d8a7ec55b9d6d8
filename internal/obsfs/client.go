package obsfs

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client talks to one openSUSE Build Service API host. It is the sole
// owner of the session's cookies (the build service hands out an
// authentication cookie on first request and expects it back on
// subsequent ones, rather than re-verifying Basic Auth every time).
//
// net/http and net/http/cookiejar are treated as the HTTP transport
// boundary here; wrapping them, not replacing them, is the point.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	user, pass string
	log        *logrus.Entry
}

func NewClient(host, user, pass string, log *logrus.Entry) (*Client, error) {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "obsfs: parsing API host %q", host)
	}
	if base.Scheme == "" {
		base.Scheme = "https"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "obsfs: creating cookie jar")
	}

	return &Client{
		httpClient: &http.Client{Jar: jar, Timeout: 60 * time.Second},
		baseURL:    base,
		user:       user,
		pass:       pass,
		log:        log,
	}, nil
}

// LoadCookies seeds the jar from a file previously written by SaveCookies.
// A missing or unreadable file is not an error: the jar just starts empty
// and the next request re-authenticates, same as a fresh mount.
func (c *Client) LoadCookies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cookies []*http.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil
	}
	c.httpClient.Jar.SetCookies(c.baseURL, cookies)
	return nil
}

// SaveCookies persists the jar's cookies for baseURL to path, best-effort.
func (c *Client) SaveCookies(path string) error {
	cookies := c.httpClient.Jar.Cookies(c.baseURL)
	data, err := json.Marshal(cookies)
	if err != nil {
		return errors.Wrap(err, "obsfs: encoding cookies")
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Client) url(apiPath string) string {
	u := *c.baseURL
	if rel, err := url.Parse(apiPath); err == nil {
		u.Path = rel.Path
		u.RawQuery = rel.RawQuery
	} else {
		u.Path = apiPath
	}
	return u.String()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(c.user, c.pass)
	c.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()}).Debug("obs api request")
	return c.httpClient.Do(req)
}

// GetDir fetches apiPath and returns the raw XML body for XMLDirParser.
// The caller owns closing the returned ReadCloser.
func (c *Client) GetDir(apiPath string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, c.url(apiPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "obsfs: GET %s", apiPath)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, httpStatusError(apiPath, resp)
	}
	return resp.Body, nil
}

// GetFile fetches a file's bytes, optionally pinned to rev.
func (c *Client) GetFile(apiPath, rev string) (io.ReadCloser, int64, error) {
	fullPath := apiPath
	if rev != "" {
		sep := "?"
		if containsQuery(apiPath) {
			sep = "&"
		}
		fullPath = fmt.Sprintf("%s%srev=%s", apiPath, sep, rev)
	}
	req, err := http.NewRequest(http.MethodGet, c.url(fullPath), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "obsfs: GET %s", fullPath)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, 0, httpStatusError(fullPath, resp)
	}
	return resp.Body, resp.ContentLength, nil
}

// PutFile uploads body to apiPath and returns the error, if any, encoded
// in the server's <status> response.
func (c *Client) PutFile(apiPath string, body io.Reader, size int64) error {
	req, err := http.NewRequest(http.MethodPut, c.url(apiPath), body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrapf(err, "obsfs: PUT %s", apiPath)
	}
	defer resp.Body.Close()
	return ParseStatusResponse(resp.Body)
}

// Delete removes the resource at apiPath.
func (c *Client) Delete(apiPath string) error {
	req, err := http.NewRequest(http.MethodDelete, c.url(apiPath), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrapf(err, "obsfs: DELETE %s", apiPath)
	}
	defer resp.Body.Close()
	return ParseStatusResponse(resp.Body)
}

func containsQuery(p string) bool {
	for _, r := range p {
		if r == '?' {
			return true
		}
	}
	return false
}

func httpStatusError(apiPath string, resp *http.Response) error {
	if err := ParseStatusResponse(resp.Body); err != nil {
		return err
	}
	return fmt.Errorf("obsfs: %s: unexpected status %s", apiPath, resp.Status)
}

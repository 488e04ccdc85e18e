package tableau

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// defaultAPIVersion is the REST API version the client speaks.
	// 3.4 is old enough to be accepted by every supported server release.
	defaultAPIVersion = "3.4"

	// pageSize is the page size used for listing endpoints.
	pageSize = 100
)

// Client talks to a Tableau Server over its REST API.
// Between a SignIn and the matching SignOut the client may be used from
// multiple goroutines, since only those two methods write the session
// state. Callers must not overlap other calls with SignIn or SignOut.
type Client struct {
	baseURL    string
	apiVersion string
	httpc      *http.Client
	logger     *log.Logger

	token    string
	siteID   string
	username string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithAPIVersion overrides the REST API version segment.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the server at baseURL
// (e.g. "https://tableau.example.com").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: defaultAPIVersion,
		httpc:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[tableau] ", log.LstdFlags)
	}
	return c
}

// Username returns the signed-in user's name.
func (c *Client) Username() string {
	return c.username
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/api/" + c.apiVersion + "/" + strings.Join(parts, "/")
}

// do issues a request with the session token attached and maps HTTP error
// statuses to the package's sentinel errors.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Tableau-Auth", c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrForbidden)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrNotFound)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: server returned %d: %s", method, rawURL, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return resp, nil
}

// signinRequest / signinResponse mirror the REST auth payloads.
type signinRequest struct {
	Credentials struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		Site     struct {
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
	} `json:"credentials"`
}

type signinResponse struct {
	Credentials struct {
		Token string `json:"token"`
		Site  struct {
			ID string `json:"id"`
		} `json:"site"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"credentials"`
}

// SignIn establishes an authenticated session.
func (c *Client) SignIn(ctx context.Context, creds Credentials) error {
	var body signinRequest
	body.Credentials.Name = creds.Username
	body.Credentials.Password = creds.Password
	body.Credentials.Site.ContentURL = creds.Site

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode signin request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint("auth", "signin"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer resp.Body.Close()

	var parsed signinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode signin response: %w", err)
	}
	if parsed.Credentials.Token == "" {
		return fmt.Errorf("sign in: server returned no session token")
	}

	c.token = parsed.Credentials.Token
	c.siteID = parsed.Credentials.Site.ID
	c.username = creds.Username
	c.logger.Printf("Signed in to %s as %s", c.baseURL, creds.Username)
	return nil
}

// SignOut invalidates the session. Safe to call when not signed in.
func (c *Client) SignOut(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint("auth", "signout"), nil)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	resp.Body.Close()
	c.token = ""
	c.logger.Printf("Signed out of %s", c.baseURL)
	return nil
}

// pagination is returned by listing endpoints. The REST API encodes the
// numeric fields as JSON strings.
type pagination struct {
	PageNumber     string `json:"pageNumber"`
	PageSize       string `json:"pageSize"`
	TotalAvailable string `json:"totalAvailable"`
}

// done reports whether the given page was the last one.
func (p pagination) done() (bool, error) {
	num, err := strconv.Atoi(p.PageNumber)
	if err != nil {
		return false, fmt.Errorf("parse pageNumber %q: %w", p.PageNumber, err)
	}
	size, err := strconv.Atoi(p.PageSize)
	if err != nil {
		return false, fmt.Errorf("parse pageSize %q: %w", p.PageSize, err)
	}
	total, err := strconv.Atoi(p.TotalAvailable)
	if err != nil {
		return false, fmt.Errorf("parse totalAvailable %q: %w", p.TotalAvailable, err)
	}
	return num*size >= total, nil
}

type projectsResponse struct {
	Pagination pagination `json:"pagination"`
	Projects   struct {
		Project []struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			ParentProjectID string `json:"parentProjectId"`
		} `json:"project"`
	} `json:"projects"`
}

// ListProjects returns every project on the site.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	for page := 1; ; page++ {
		u := c.endpoint("sites", c.siteID, "projects") +
			fmt.Sprintf("?pageSize=%d&pageNumber=%d", pageSize, page)

		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}

		var parsed projectsResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode projects page %d: %w", page, err)
		}

		for _, p := range parsed.Projects.Project {
			projects = append(projects, Project{
				ID:       p.ID,
				Name:     p.Name,
				ParentID: p.ParentProjectID,
			})
		}

		last, err := parsed.Pagination.done()
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		if last {
			return projects, nil
		}
	}
}

type contentResponse struct {
	Pagination pagination `json:"pagination"`
	Workbooks  struct {
		Workbook []contentEntry `json:"workbook"`
	} `json:"workbooks"`
	Datasources struct {
		Datasource []contentEntry `json:"datasource"`
	} `json:"datasources"`
}

type contentEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// listKind pages through one content listing endpoint filtered to a project.
func (c *Client) listKind(ctx context.Context, kind ContentKind, projectID string) ([]ContentItem, error) {
	filter := url.QueryEscape("projectId:eq:" + projectID)

	var items []ContentItem
	for page := 1; ; page++ {
		u := c.endpoint("sites", c.siteID, kind.apiPath()) +
			fmt.Sprintf("?filter=%s&pageSize=%d&pageNumber=%d", filter, pageSize, page)

		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind.apiPath(), err)
		}

		var parsed contentResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", kind.apiPath(), page, err)
		}

		entries := parsed.Workbooks.Workbook
		if kind == KindDatasource {
			entries = parsed.Datasources.Datasource
		}
		for _, e := range entries {
			items = append(items, ContentItem{ID: e.ID, Name: e.Name, Kind: kind})
		}

		last, err := parsed.Pagination.done()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind.apiPath(), err)
		}
		if last {
			return items, nil
		}
	}
}

// ListContent returns the workbooks and datasources owned by a project.
func (c *Client) ListContent(ctx context.Context, projectID string) (Content, error) {
	workbooks, err := c.listKind(ctx, KindWorkbook, projectID)
	if err != nil {
		return Content{}, err
	}
	datasources, err := c.listKind(ctx, KindDatasource, projectID)
	if err != nil {
		return Content{}, err
	}
	return Content{Workbooks: workbooks, Datasources: datasources}, nil
}

// Download exports a content item to dest. The file is written via a
// temporary sibling and renamed so a failed transfer never leaves a
// truncated artifact at dest.
func (c *Client) Download(ctx context.Context, item ContentItem, dest string) error {
	u := c.endpoint("sites", c.siteID, item.Kind.apiPath(), item.ID, "content") + "?includeExtract=true"

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("download %s %q: %w", item.Kind, item.Name, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tabsync-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", dest, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %q: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("finalize %q: %w", dest, err)
	}
	return nil
}

// Package tableau provides a thin client for the Tableau Server REST API.
//
// The client covers exactly the surface the backup run needs: session
// management, project and content listing, and content export. Responses are
// requested as JSON. Listing endpoints are paginated by the server; the
// client follows pages and returns complete slices.
package tableau

import (
	"context"
	"errors"
)

// Common sentinel errors returned by the client. Callers distinguish
// authorization failures from generic remote failures with errors.Is.
var (
	// ErrUnauthorized indicates missing or invalid session credentials (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the signed-in user lacks permission for the
	// requested content (HTTP 403).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested resource does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")
)

// ContentKind identifies the type of a downloadable content item.
type ContentKind string

const (
	KindWorkbook   ContentKind = "workbook"
	KindDatasource ContentKind = "datasource"
)

// Ext returns the file extension Tableau uses when exporting this kind.
func (k ContentKind) Ext() string {
	switch k {
	case KindWorkbook:
		return "twbx"
	case KindDatasource:
		return "tdsx"
	default:
		return "bin"
	}
}

// apiPath returns the REST resource segment for this kind.
func (k ContentKind) apiPath() string {
	switch k {
	case KindDatasource:
		return "datasources"
	default:
		return "workbooks"
	}
}

// Credentials holds sign-in information. Site is the site contentUrl;
// empty selects the server's default site.
type Credentials struct {
	Username string
	Password string
	Site     string
}

// Project is one node of the server's project hierarchy.
// ParentID is empty for top-level projects.
type Project struct {
	ID       string
	Name     string
	ParentID string
}

// ContentItem is a single downloadable artifact owned by a project.
type ContentItem struct {
	ID   string
	Name string
	Kind ContentKind
}

// Content groups a project's downloadable items by kind.
type Content struct {
	Workbooks   []ContentItem
	Datasources []ContentItem
}

// Service is the remote-server surface consumed by the backup engine.
// *Client is the production implementation; tests substitute fakes.
type Service interface {
	// SignIn establishes a session. Must be called before any other method.
	SignIn(ctx context.Context, creds Credentials) error

	// SignOut invalidates the current session.
	SignOut(ctx context.Context) error

	// Username returns the signed-in user's name, for log context.
	Username() string

	// ListProjects returns every project on the site as a flat listing.
	ListProjects(ctx context.Context) ([]Project, error)

	// ListContent returns the workbooks and datasources owned by a project.
	ListContent(ctx context.Context, projectID string) (Content, error)

	// Download exports a content item to the given local path.
	Download(ctx context.Context, item ContentItem, dest string) error
}

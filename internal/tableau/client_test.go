package tableau

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// newTestServer builds an httptest server speaking just enough of the REST
// API for the client: signin, signout, paginated listings, and downloads.
func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/3.4/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req signinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Credentials.Password != "hunter2" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"credentials":{"token":"tok-1","site":{"id":"site-1"},"user":{"id":"user-1"}}}`)
	})

	mux.HandleFunc("/api/3.4/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/3.4/sites/site-1/projects", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tableau-Auth") != "tok-1" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		// Two pages to exercise pagination.
		switch r.URL.Query().Get("pageNumber") {
		case "1":
			fmt.Fprint(w, `{"pagination":{"pageNumber":"1","pageSize":"100","totalAvailable":"101"},
				"projects":{"project":[{"id":"p1","name":"Sales"}]}}`)
		default:
			fmt.Fprint(w, `{"pagination":{"pageNumber":"2","pageSize":"100","totalAvailable":"101"},
				"projects":{"project":[{"id":"p2","name":"Sales EMEA","parentProjectId":"p1"}]}}`)
		}
	})

	mux.HandleFunc("/api/3.4/sites/site-1/workbooks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pagination":{"pageNumber":"1","pageSize":"100","totalAvailable":"1"},
			"workbooks":{"workbook":[{"id":"wb1","name":"Q1"}]}}`)
	})

	mux.HandleFunc("/api/3.4/sites/site-1/datasources", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pagination":{"pageNumber":"1","pageSize":"100","totalAvailable":"0"},
			"datasources":{"datasource":[]}}`)
	})

	mux.HandleFunc("/api/3.4/sites/site-1/workbooks/wb1/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("workbook-bytes"))
	})

	mux.HandleFunc("/api/3.4/sites/site-1/workbooks/locked/content", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no access", http.StatusForbidden)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, NewClient(srv.URL)
}

func signIn(t *testing.T, c *Client) {
	t.Helper()
	err := c.SignIn(context.Background(), Credentials{Username: "backup", Password: "hunter2"})
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
}

func TestSignInBadPassword(t *testing.T) {
	_, client := newTestServer(t)

	err := client.SignIn(context.Background(), Credentials{Username: "backup", Password: "wrong"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListProjectsFollowsPagination(t *testing.T) {
	_, client := newTestServer(t)
	signIn(t, client)

	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}

	if len(projects) != 2 {
		t.Fatalf("expected 2 projects across pages, got %d", len(projects))
	}
	if projects[0].ID != "p1" || projects[0].ParentID != "" {
		t.Errorf("unexpected first project: %+v", projects[0])
	}
	if projects[1].ParentID != "p1" {
		t.Errorf("expected p2 to be a child of p1, got parent %q", projects[1].ParentID)
	}
}

func TestListContent(t *testing.T) {
	_, client := newTestServer(t)
	signIn(t, client)

	content, err := client.ListContent(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListContent failed: %v", err)
	}

	if len(content.Workbooks) != 1 || content.Workbooks[0].Name != "Q1" {
		t.Errorf("unexpected workbooks: %+v", content.Workbooks)
	}
	if content.Workbooks[0].Kind != KindWorkbook {
		t.Errorf("expected workbook kind, got %q", content.Workbooks[0].Kind)
	}
	if len(content.Datasources) != 0 {
		t.Errorf("expected no datasources, got %+v", content.Datasources)
	}
}

func TestDownloadWritesFile(t *testing.T) {
	_, client := newTestServer(t)
	signIn(t, client)

	dest := filepath.Join(t.TempDir(), "Q1.twbx")
	item := ContentItem{ID: "wb1", Name: "Q1", Kind: KindWorkbook}
	if err := client.Download(context.Background(), item, dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "workbook-bytes" {
		t.Errorf("unexpected file contents: %q", data)
	}
}

func TestDownloadForbidden(t *testing.T) {
	_, client := newTestServer(t)
	signIn(t, client)

	dest := filepath.Join(t.TempDir(), "locked.twbx")
	item := ContentItem{ID: "locked", Name: "Locked", Kind: KindWorkbook}
	err := client.Download(context.Background(), item, dest)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Errorf("failed download must not leave a file at %q", dest)
	}
}

func TestKindExt(t *testing.T) {
	if got := KindWorkbook.Ext(); got != "twbx" {
		t.Errorf("workbook ext = %q, want twbx", got)
	}
	if got := KindDatasource.Ext(); got != "tdsx" {
		t.Errorf("datasource ext = %q, want tdsx", got)
	}
}

// Package hierarchy reconstructs the server's project tree from the flat
// listing the REST API returns.
//
// The Index is built once per backup run and is immutable afterwards, so
// every traversal goroutine can read it concurrently without locking.
package hierarchy

import (
	"sort"

	"github.com/tableau-tools/tabsync/internal/tableau"
)

// Project is one node of the reconstructed tree. Children holds the ids of
// child projects in a deterministic (name-sorted) order.
type Project struct {
	ID          string
	Name        string
	ParentID    string
	Children    []string
	Workbooks   []tableau.ContentItem
	Datasources []tableau.ContentItem
}

// Items returns the project's downloadable content, workbooks first.
func (p *Project) Items() []tableau.ContentItem {
	items := make([]tableau.ContentItem, 0, len(p.Workbooks)+len(p.Datasources))
	items = append(items, p.Workbooks...)
	items = append(items, p.Datasources...)
	return items
}

// Index maps project ids to Projects and knows the forest's roots.
type Index struct {
	projects map[string]*Project
	roots    []string
}

// Build constructs an Index from a flat project listing plus each project's
// content. Runs in O(n): one pass to index by id, one pass to link children.
//
// A project whose parent id does not resolve within the listing is kept in
// the index but is unreachable from any root; the walker logs and skips it.
// The listing is assumed to be a forest: cycles are not detected.
func Build(projects []tableau.Project, contents map[string]tableau.Content) *Index {
	idx := &Index{projects: make(map[string]*Project, len(projects))}

	for _, p := range projects {
		node := &Project{
			ID:       p.ID,
			Name:     p.Name,
			ParentID: p.ParentID,
		}
		if c, ok := contents[p.ID]; ok {
			node.Workbooks = c.Workbooks
			node.Datasources = c.Datasources
		}
		idx.projects[p.ID] = node
	}

	for _, p := range projects {
		if p.ParentID == "" {
			idx.roots = append(idx.roots, p.ID)
			continue
		}
		if parent, ok := idx.projects[p.ParentID]; ok {
			parent.Children = append(parent.Children, p.ID)
		}
	}

	// Deterministic ordering keeps runs reproducible regardless of the
	// order the server returned pages in.
	byName := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool {
			return idx.projects[ids[i]].Name < idx.projects[ids[j]].Name
		})
	}
	byName(idx.roots)
	for _, node := range idx.projects {
		byName(node.Children)
	}

	return idx
}

// Get returns the project with the given id, or nil if unknown.
func (idx *Index) Get(id string) *Project {
	return idx.projects[id]
}

// Roots returns the ids of projects with no parent, name-sorted.
func (idx *Index) Roots() []string {
	return idx.roots
}

// Len returns the number of projects in the index.
func (idx *Index) Len() int {
	return len(idx.projects)
}

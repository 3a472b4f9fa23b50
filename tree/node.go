package tree

import (
	"fmt"
	"net/url"
)

// RootID is the sentinel parent id of top-level folders and VMs.
const RootID = "root"

// Item types accepted by the move endpoint.
const (
	ItemVM     = "vm"
	ItemFolder = "folder"
)

// FolderRecord is a folder as the management server reports it.
type FolderRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// VMRecord is opaque display data; only ParentID is ever changed, and only by a move.
type VMRecord struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Node          string  `json:"node"`
	Type          string  `json:"type"`
	ParentID      string  `json:"parent_id"`
	Status        string  `json:"status,omitempty"`
	MemoryPercent float64 `json:"memory_percent,omitempty"`
}

// parent returns the VM's folder, treating an empty placement as root.
func (v VMRecord) parent() string {
	if v.ParentID == "" {
		return RootID
	}
	return v.ParentID
}

// VMItem is a VM placed in the rendered tree.
type VMItem struct {
	VMRecord
	Hidden bool
}

// Link is the VM detail page.
func (v VMItem) Link() string {
	kind := v.Type
	if kind == "" {
		kind = "qemu"
	}
	return fmt.Sprintf("/vm/%s/%s?type=%s", url.PathEscape(v.Node), url.PathEscape(v.ID), url.QueryEscape(kind))
}

// Running reports whether the status dot should be lit.
func (v VMItem) Running() bool {
	return v.Status == "running"
}

// Node is one folder of a tree rebuilt from the flat folder list. Nodes are
// throwaway: every reload builds a fresh set.
type Node struct {
	Parent   *Node `json:"-"` // nil for top-level folders
	Folder   FolderRecord
	Depth    int
	Expanded bool
	Children []*Node
	VMs      []*VMItem
}

// DefaultExpanded is the expansion a node gets before any saved state applies.
func (n *Node) DefaultExpanded() bool {
	return n.Depth <= 1
}

// HasChildren reports whether the node needs an expand affordance.
func (n *Node) HasChildren() bool {
	return len(n.Children) > 0 || len(n.VMs) > 0
}

// ID is shorthand for the folder id.
func (n *Node) ID() string {
	return n.Folder.ID
}

// FindByID searches this subtree for a folder.
func (n *Node) FindByID(id string) *Node {
	if n.Folder.ID == id {
		return n
	}
	for _, child := range n.Children {
		if found := child.FindByID(id); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits the subtree depth first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Forest is the full sidebar: top-level folders plus VMs placed at root.
type Forest struct {
	Folders []*Node
	VMs     []*VMItem
}

// FindByID searches all top-level subtrees.
func (f *Forest) FindByID(id string) *Node {
	for _, n := range f.Folders {
		if found := n.FindByID(id); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits every folder node in the forest.
func (f *Forest) Walk(fn func(*Node)) {
	for _, n := range f.Folders {
		n.Walk(fn)
	}
}

// CountFolders returns the number of folder nodes.
func (f *Forest) CountFolders() int {
	count := 0
	f.Walk(func(*Node) { count++ })
	return count
}

// CountVMs returns the number of placed VMs, hidden or not.
func (f *Forest) CountVMs() int {
	count := len(f.VMs)
	f.Walk(func(n *Node) { count += len(n.VMs) })
	return count
}

package tree

import (
	"sort"
	"strings"
)

// builder groups the flat records by parent once so each level is a map lookup.
type builder struct {
	children map[string][]FolderRecord
	vms      map[string][]VMRecord
	visited  map[string]bool
}

func newBuilder(folders []FolderRecord, vms []VMRecord) *builder {
	b := &builder{
		children: make(map[string][]FolderRecord),
		vms:      make(map[string][]VMRecord),
		visited:  make(map[string]bool),
	}

	for _, f := range folders {
		if f.ID == "" {
			continue
		}
		parent := f.ParentID
		if parent == "" {
			parent = RootID
		}
		b.children[parent] = append(b.children[parent], f)
	}
	for parent := range b.children {
		sortFolders(b.children[parent])
	}

	for _, v := range vms {
		if v.ID == "" {
			continue
		}
		b.vms[v.parent()] = append(b.vms[v.parent()], v)
	}
	for parent := range b.vms {
		sortVMs(b.vms[parent])
	}

	return b
}

func (b *builder) build(parent *Node, parentID string, depth int) []*Node {
	var nodes []*Node
	for _, f := range b.children[parentID] {
		// A record can only be placed once; this also stops cyclic input.
		if b.visited[f.ID] {
			continue
		}
		b.visited[f.ID] = true

		n := &Node{
			Parent: parent,
			Folder: f,
			Depth:  depth,
		}
		n.Expanded = n.DefaultExpanded()
		n.Children = b.build(n, f.ID, depth+1)
		for _, v := range b.vms[f.ID] {
			n.VMs = append(n.VMs, &VMItem{VMRecord: v})
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// Build rebuilds the folders below parentID from the flat lists. Recursion ends
// at folders without children; an empty or malformed list gives an empty result.
func Build(folders []FolderRecord, vms []VMRecord, parentID string, depth int) []*Node {
	return newBuilder(folders, vms).build(nil, parentID, depth)
}

// New builds the whole sidebar. VMs whose folder is unknown are shown at root
// so that none of them disappears from the view.
func New(folders []FolderRecord, vms []VMRecord) *Forest {
	b := newBuilder(folders, vms)
	forest := &Forest{Folders: b.build(nil, RootID, 0)}

	var rootVMs []VMRecord
	for _, v := range vms {
		if v.ID == "" {
			continue
		}
		if p := v.parent(); p == RootID || !b.visited[p] {
			rootVMs = append(rootVMs, v)
		}
	}
	sortVMs(rootVMs)
	for _, v := range rootVMs {
		forest.VMs = append(forest.VMs, &VMItem{VMRecord: v})
	}

	return forest
}

func sortFolders(folders []FolderRecord) {
	sort.SliceStable(folders, func(i, j int) bool {
		return strings.ToLower(folders[i].Name) < strings.ToLower(folders[j].Name)
	})
}

func sortVMs(vms []VMRecord) {
	sort.SliceStable(vms, func(i, j int) bool {
		return strings.ToLower(vms[i].Name) < strings.ToLower(vms[j].Name)
	})
}

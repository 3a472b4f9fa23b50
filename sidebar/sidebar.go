// Package sidebar applies saved expand state and search filtering to a freshly
// built folder tree.
package sidebar

import (
	"strings"

	"vm-console/tree"
)

// StateSource reads a profile's saved folder states.
type StateSource interface {
	Expanded(profileID string) (map[string]bool, error)
}

// Apply restores each folder's expansion from states, keyed by folder id.
// Folders without a saved entry are expanded.
func Apply(forest *tree.Forest, states map[string]bool) {
	forest.Walk(func(n *tree.Node) {
		open, ok := states[n.ID()]
		if !ok {
			open = true
		}
		n.Expanded = open
	})
	showAll(forest)
}

// Search hides VMs whose name does not contain query and opens every folder so
// matches are visible. The query is matched as typed, spaces included, ignoring
// case. Nothing is written back to the saved state; an empty query leaves the
// forest as Apply produced it.
func Search(forest *tree.Forest, query string) {
	query = strings.ToLower(query)
	if query == "" {
		return
	}

	match := func(v *tree.VMItem) {
		v.Hidden = !strings.Contains(strings.ToLower(v.Name), query)
	}
	for _, v := range forest.VMs {
		match(v)
	}
	forest.Walk(func(n *tree.Node) {
		n.Expanded = true
		for _, v := range n.VMs {
			match(v)
		}
	})
}

func showAll(forest *tree.Forest) {
	for _, v := range forest.VMs {
		v.Hidden = false
	}
	forest.Walk(func(n *tree.Node) {
		for _, v := range n.VMs {
			v.Hidden = false
		}
	})
}

// Compose builds the sidebar for a profile: tree from the flat lists, saved
// state restored, then the search applied.
func Compose(src StateSource, profileID string, folders []tree.FolderRecord, vms []tree.VMRecord, query string) (*tree.Forest, error) {
	forest := tree.New(folders, vms)
	states, err := src.Expanded(profileID)
	if err != nil {
		return nil, err
	}
	Apply(forest, states)
	Search(forest, query)
	return forest, nil
}

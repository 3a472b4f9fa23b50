package tree

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes the forest as an indented outline for terminals. Collapsed
// folders show their marker but not their contents; hidden VMs are skipped.
func Fprint(w io.Writer, forest *Forest) error {
	if forest == nil {
		return nil
	}
	for _, n := range forest.Folders {
		if err := fprintNode(w, n); err != nil {
			return err
		}
	}
	for _, v := range forest.VMs {
		if err := fprintVM(w, v, 0); err != nil {
			return err
		}
	}
	return nil
}

func fprintNode(w io.Writer, n *Node) error {
	marker := " "
	if n.HasChildren() {
		marker = "▸"
		if n.Expanded {
			marker = "▾"
		}
	}
	indent := strings.Repeat("  ", n.Depth)
	if _, err := fmt.Fprintf(w, "%s%s %s/ [%s]\n", indent, marker, n.Folder.Name, n.Folder.ID); err != nil {
		return err
	}
	if !n.Expanded {
		return nil
	}
	for _, child := range n.Children {
		if err := fprintNode(w, child); err != nil {
			return err
		}
	}
	for _, v := range n.VMs {
		if err := fprintVM(w, v, n.Depth+1); err != nil {
			return err
		}
	}
	return nil
}

func fprintVM(w io.Writer, v *VMItem, depth int) error {
	if v.Hidden {
		return nil
	}
	dot := "○"
	if v.Running() {
		dot = "●"
	}
	_, err := fmt.Fprintf(w, "%s  %s %s (%s@%s)\n", strings.Repeat("  ", depth), dot, v.Name, v.ID, v.Node)
	return err
}

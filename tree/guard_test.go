package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDescendant(t *testing.T) {
	folders := []FolderRecord{
		{ID: "A", Name: "A", ParentID: RootID},
		{ID: "B", Name: "B", ParentID: "A"},
		{ID: "C", Name: "C", ParentID: "B"},
		{ID: "D", Name: "D", ParentID: RootID},
		{ID: "X", Name: "X", ParentID: "missing"},
		{ID: "L1", Name: "L1", ParentID: "L2"},
		{ID: "L2", Name: "L2", ParentID: "L1"},
	}

	tests := []struct {
		name      string
		candidate string
		target    string
		want      bool
	}{
		{"grandchild", "A", "C", true},
		{"child", "A", "B", true},
		{"ancestor is not a descendant", "C", "A", false},
		{"disjoint subtrees", "D", "C", false},
		{"itself", "B", "B", true},
		{"broken chain", "A", "X", false},
		{"unknown target", "A", "nope", false},
		{"root target", "A", RootID, false},
		{"cyclic chain terminates", "A", "L1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDescendant(folders, tt.candidate, tt.target); got != tt.want {
				t.Errorf("IsDescendant(%s, %s) = %v, want %v", tt.candidate, tt.target, got, tt.want)
			}
		})
	}
}

func TestMoveTargetsExcludesOwnSubtree(t *testing.T) {
	folders := []FolderRecord{
		{ID: "A", Name: "A", ParentID: RootID},
		{ID: "B", Name: "B", ParentID: "A"},
		{ID: "C", Name: "C", ParentID: "B"},
		{ID: "D", Name: "D", ParentID: RootID},
	}

	ids := func(fs []FolderRecord) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.ID)
		}
		return out
	}

	assert.Equal(t, []string{"A", "D"}, ids(MoveTargets(folders, "B", ItemFolder)))
	assert.Equal(t, []string{"D"}, ids(MoveTargets(folders, "A", ItemFolder)))
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(MoveTargets(folders, "B", ItemVM)))

	for _, target := range MoveTargets(folders, "A", ItemFolder) {
		assert.False(t, IsDescendant(folders, "A", target.ID), target.ID)
	}
}

func TestCanMove(t *testing.T) {
	folders := []FolderRecord{
		{ID: "A", Name: "A", ParentID: RootID},
		{ID: "B", Name: "B", ParentID: "A"},
	}

	assert.True(t, CanMove(folders, "B", ItemFolder, RootID))
	assert.True(t, CanMove(folders, "100", ItemVM, "B"))
	assert.False(t, CanMove(folders, "A", ItemFolder, "B"))
	assert.False(t, CanMove(folders, "A", ItemFolder, "A"))
	assert.False(t, CanMove(folders, "100", ItemVM, "nope"))
	assert.False(t, CanMove(folders, "100", "disk", RootID))
}

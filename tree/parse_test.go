package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSidebarRoundTrip(t *testing.T) {
	vms := []VMRecord{
		{ID: "100", Name: "web", Node: "pve1", Type: "qemu", ParentID: "C", Status: "running", MemoryPercent: 42},
		{ID: "101", Name: "db", Node: "pve2", Type: "lxc", ParentID: RootID, Status: "stopped"},
	}
	html, err := SidebarHTML(New(sampleFolders(), vms))
	require.NoError(t, err)

	folders, gotVMs, err := ParseSidebar(html)
	require.NoError(t, err)
	assert.ElementsMatch(t, sampleFolders(), folders)
	assert.ElementsMatch(t, vms, gotVMs)
}

func TestParseSidebarServerMarkup(t *testing.T) {
	html := `
<div class="folder-item" data-id="F1"><span class="folder-name"> Prod </span></div>
<div class="folder-content" data-parent="F1">
  <div class="vm-item" data-id="200"><p class="vm-name">api</p></div>
</div>
<div class="vm-item"><p class="vm-name">no id</p></div>`

	folders, vms, err := ParseSidebar(html)
	require.NoError(t, err)
	assert.Equal(t, []FolderRecord{{ID: "F1", Name: "Prod", ParentID: RootID}}, folders)
	require.Len(t, vms, 1)
	assert.Equal(t, "api", vms[0].Name)
	assert.Equal(t, "F1", vms[0].ParentID)
}

func TestParseSidebarEmpty(t *testing.T) {
	folders, vms, err := ParseSidebar("")
	require.NoError(t, err)
	assert.Empty(t, folders)
	assert.Empty(t, vms)
}

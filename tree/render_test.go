package tree

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div id=\"vm-folder-tree\" data-parent=\"root\">" + html + "</div>"))
	require.NoError(t, err)
	return doc
}

func TestRenderSidebarNestsUnderDeclaredParent(t *testing.T) {
	vms := []VMRecord{
		{ID: "100", Name: "web", Node: "pve1", Type: "qemu", ParentID: "C", Status: "running", MemoryPercent: 42},
		{ID: "101", Name: "db", Node: "pve1", Type: "lxc", ParentID: RootID},
	}
	html, err := SidebarHTML(New(sampleFolders(), vms))
	require.NoError(t, err)
	doc := parseHTML(t, html)

	items := doc.Find(".folder-item")
	assert.Equal(t, len(sampleFolders()), items.Length())

	for _, f := range sampleFolders() {
		sel := doc.Find(`.folder-item[data-folder-id="` + f.ID + `"]`)
		require.Equal(t, 1, sel.Length(), f.ID)

		parent, _ := sel.Parent().Attr("data-parent")
		assert.Equal(t, f.ParentID, parent, "folder %s", f.ID)
	}

	vm := doc.Find(`.vm-item[data-id="100"]`)
	require.Equal(t, 1, vm.Length())
	parent, _ := vm.Parent().Attr("data-parent")
	assert.Equal(t, "C", parent)
	assert.Equal(t, 1, vm.Find(".vm-status-on").Length())
	href, _ := vm.Find("a.vm-link").Attr("href")
	assert.Equal(t, "/vm/pve1/100?type=qemu", href)

	rootVM := doc.Find(`.vm-item[data-id="101"]`)
	parent, _ = rootVM.Parent().Attr("data-parent")
	assert.Equal(t, RootID, parent)
}

func TestRenderSidebarExpandAffordance(t *testing.T) {
	html, err := SidebarHTML(New(sampleFolders(), nil))
	require.NoError(t, err)
	doc := parseHTML(t, html)

	assert.Equal(t, 1, doc.Find(`.folder-item[data-folder-id="A"] .folder-toggle`).Length())
	assert.Equal(t, 0, doc.Find(`.folder-item[data-folder-id="E"] .folder-toggle`).Length())

	style, ok := doc.Find(`.folder-content[data-parent="C"]`).Attr("style")
	assert.True(t, ok)
	assert.Contains(t, style, "display: none")
	_, ok = doc.Find(`.folder-content[data-parent="A"]`).Attr("style")
	assert.False(t, ok)
}

func TestRenderSidebarEscapesNames(t *testing.T) {
	folders := []FolderRecord{{ID: "A", Name: "<script>alert(1)</script>", ParentID: RootID}}

	var buf bytes.Buffer
	require.NoError(t, RenderSidebar(&buf, New(folders, nil)))

	assert.NotContains(t, buf.String(), "<script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestRenderSidebarEmpty(t *testing.T) {
	html, err := SidebarHTML(nil)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(html))
}

func TestRenderPickerOmitsOwnSubtree(t *testing.T) {
	html, err := PickerHTML(Picker(sampleFolders(), "B", ItemFolder))
	require.NoError(t, err)
	doc := parseHTML(t, html)

	var values []string
	doc.Find(`input[name="folderSelection"]`).Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("value")
		values = append(values, v)
	})
	assert.Equal(t, []string{RootID, "A", "E", "D"}, values)

	_, checked := doc.Find("#folder-root").Attr("checked")
	assert.True(t, checked)
}

func TestFprintHidesCollapsedContent(t *testing.T) {
	forest := New(sampleFolders(), []VMRecord{{ID: "9", Name: "deep", Node: "n", ParentID: "C"}})

	var buf bytes.Buffer
	require.NoError(t, Fprint(&buf, forest))
	out := buf.String()

	assert.Contains(t, out, "▾ alpha/ [A]")
	assert.Contains(t, out, "▸ gamma/ [C]")
	assert.NotContains(t, out, "deep")
}

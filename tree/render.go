package tree

import (
	"bytes"
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html.tmpl"))

// RenderSidebar writes the sidebar markup for the forest. Folder and VM names
// are escaped by html/template.
func RenderSidebar(w io.Writer, forest *Forest) error {
	if forest == nil {
		forest = &Forest{}
	}
	return templates.ExecuteTemplate(w, "sidebar", forest)
}

// SidebarHTML is RenderSidebar into a string.
func SidebarHTML(forest *Forest) (string, error) {
	var buf bytes.Buffer
	if err := RenderSidebar(&buf, forest); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Picker builds the destination tree shown when moving an item: every allowed
// destination, nested as in the sidebar, with deeper levels collapsed.
func Picker(folders []FolderRecord, itemID, itemType string) []*Node {
	return Build(MoveTargets(folders, itemID, itemType), nil, RootID, 0)
}

// RenderPicker writes the destination picker, Root first and preselected.
func RenderPicker(w io.Writer, nodes []*Node) error {
	return templates.ExecuteTemplate(w, "picker", nodes)
}

// PickerHTML is RenderPicker into a string.
func PickerHTML(nodes []*Node) (string, error) {
	var buf bytes.Buffer
	if err := RenderPicker(&buf, nodes); err != nil {
		return "", err
	}
	return buf.String(), nil
}

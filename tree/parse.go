package tree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseSidebar recovers flat folder and VM records from sidebar markup, for
// servers that answer a tree fetch with rendered HTML only. An item's parent is
// the data-parent of the closest enclosing folder-content, root when none.
func ParseSidebar(html string) ([]FolderRecord, []VMRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parse sidebar markup: %w", err)
	}

	parentOf := func(s *goquery.Selection) string {
		if p, ok := s.Closest(".folder-content").Attr("data-parent"); ok && p != "" {
			return p
		}
		return RootID
	}

	var folders []FolderRecord
	doc.Find(".folder-item").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("data-folder-id")
		if !ok || id == "" {
			id, ok = s.Attr("data-id")
		}
		if !ok || id == "" {
			return
		}
		folders = append(folders, FolderRecord{
			ID:       id,
			Name:     strings.TrimSpace(s.Find(".folder-name").First().Text()),
			ParentID: parentOf(s),
		})
	})

	var vms []VMRecord
	doc.Find(".vm-item").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("data-id")
		if !ok || id == "" {
			return
		}
		vm := VMRecord{
			ID:       id,
			Name:     s.AttrOr("data-name", strings.TrimSpace(s.Find(".vm-name").First().Text())),
			Node:     s.AttrOr("data-node", ""),
			Type:     s.AttrOr("data-type", ""),
			ParentID: parentOf(s),
		}
		if s.Find(".vm-status-on").Length() > 0 {
			vm.Status = "running"
		} else if s.Find(".vm-status-off").Length() > 0 {
			vm.Status = "stopped"
		}
		if style, ok := s.Find(".vm-memory-fill").Attr("style"); ok {
			vm.MemoryPercent = widthPercent(style)
		}
		vms = append(vms, vm)
	})

	return folders, vms, nil
}

// widthPercent reads "width: N%" out of an inline style.
func widthPercent(style string) float64 {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok || strings.TrimSpace(k) != "width" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

package upstream

import (
	"bytes"
	"encoding/json"

	"vm-console/tree"
)

// envelope is the status part every management server response carries.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TreeData is the structured tree payload: flat folder and VM lists.
type TreeData struct {
	Folders []tree.FolderRecord `json:"folders"`
	VMs     []tree.VMRecord     `json:"vms"`
}

// TreePayload is what a tree fetch returns: structured data when the server
// provides it, otherwise server-rendered markup.
type TreePayload struct {
	Data *TreeData
	HTML string
}

// MoveRequest relocates a VM or folder.
type MoveRequest struct {
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type"`
	ParentID string `json:"parent_id"`
}

type folderCreateRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type folderRenameRequest struct {
	Name string `json:"name"`
}

// CreateVMRequest is the body of a VM creation call. Fields after
// StartAfterCreate depend on CreationType.
type CreateVMRequest struct {
	CreationType     string  `json:"creation_type"`
	Name             string  `json:"name"`
	Node             string  `json:"node"`
	VLAN             *string `json:"vlan"`
	StartAfterCreate bool    `json:"start_after_create"`

	// iso
	ISO      string `json:"iso,omitempty"`
	CPU      int    `json:"cpu,omitempty"`
	Memory   int    `json:"memory,omitempty"`
	DiskSize int    `json:"disk_size,omitempty"`

	// template
	TemplateVMID string `json:"template_vmid,omitempty"`

	// iso: required; template: nil means the template's own storage
	Storage *string `json:"storage"`
}

// CreateVMResult reports what the server started.
type CreateVMResult struct {
	VMID   FlexString `json:"vmid,omitempty"`
	TaskID FlexString `json:"task_id,omitempty"`
}

// FlexString accepts a JSON string or number; the server is not consistent
// about how it encodes VM ids.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// ISOImage is an installable image on some storage.
type ISOImage struct {
	Storage string `json:"storage"`
	VolID   string `json:"volid"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Format  string `json:"format"`
}

// Template is a VM template that can be cloned.
type Template struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Memory   int64  `json:"memory"`
	DiskSize int64  `json:"disksize"`
}

// Storage is a target storage, sizes in GB.
type Storage struct {
	Storage string  `json:"storage"`
	Avail   float64 `json:"avail"`
	Total   float64 `json:"total"`
}

// NodeInfo is the node the server picked for new VMs, memory in GB.
type NodeInfo struct {
	Name       string  `json:"name"`
	MemUsed    float64 `json:"mem_used"`
	MemTotal   float64 `json:"mem_total"`
	MemPercent float64 `json:"mem_percent"`
}

// Package wizard validates VM creation requests and loads the choices the
// creation form offers.
package wizard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vm-console/dispatch"
	"vm-console/logging"
	"vm-console/metrics"
	"vm-console/upstream"
)

// Creation types.
const (
	FromISO      = "iso"
	FromTemplate = "template"
)

// Defaults for ISO installs.
const (
	DefaultCPU      = 1
	DefaultMemory   = 2048 // MB
	DefaultDiskSize = 32   // GB
)

// Upstream is the part of the management server the wizard calls.
type Upstream interface {
	CreateVM(ctx context.Context, req upstream.CreateVMRequest) (*upstream.CreateVMResult, error)
	AvailableISOs(ctx context.Context) ([]upstream.ISOImage, error)
	AvailableTemplates(ctx context.Context) ([]upstream.Template, error)
	AvailableStorage(ctx context.Context) ([]upstream.Storage, error)
	FindBestNode(ctx context.Context) (*upstream.NodeInfo, error)
}

// Form is what the user filled in.
type Form struct {
	CreationType     string `json:"creation_type"`
	Name             string `json:"name"`
	Node             string `json:"node"`
	VLAN             string `json:"vlan"`
	StartAfterCreate bool   `json:"start_after_create"`

	ISO      string `json:"iso"`
	CPU      int    `json:"cpu"`
	Memory   int    `json:"memory"`
	DiskSize int    `json:"disk_size"`

	TemplateVMID string `json:"template_vmid"`
	Storage      string `json:"storage"`
}

func invalid(msg string) *dispatch.ValidationError {
	return &dispatch.ValidationError{Message: msg}
}

// Request validates the form and builds the creation call. Nothing is sent
// when it returns an error.
func (f Form) Request() (upstream.CreateVMRequest, error) {
	var req upstream.CreateVMRequest

	if f.CreationType != FromISO && f.CreationType != FromTemplate {
		return req, invalid("Please select a creation method")
	}
	if strings.TrimSpace(f.Name) == "" {
		return req, invalid("Please enter a VM name")
	}
	if f.Node == "" {
		return req, invalid("No suitable node found for VM creation")
	}

	req = upstream.CreateVMRequest{
		CreationType:     f.CreationType,
		Name:             f.Name,
		Node:             f.Node,
		StartAfterCreate: f.StartAfterCreate,
	}
	if f.VLAN != "" {
		vlan := f.VLAN
		req.VLAN = &vlan
	}

	switch f.CreationType {
	case FromISO:
		if f.ISO == "" {
			return upstream.CreateVMRequest{}, invalid("Please select an ISO image")
		}
		if f.Storage == "" {
			return upstream.CreateVMRequest{}, invalid("Please select a storage location")
		}
		storage := f.Storage
		req.ISO = f.ISO
		req.Storage = &storage
		req.CPU = orDefault(f.CPU, DefaultCPU)
		req.Memory = orDefault(f.Memory, DefaultMemory)
		req.DiskSize = orDefault(f.DiskSize, DefaultDiskSize)
	case FromTemplate:
		if f.TemplateVMID == "" {
			return upstream.CreateVMRequest{}, invalid("Please select a template")
		}
		req.TemplateVMID = f.TemplateVMID
		if f.Storage != "" {
			storage := f.Storage
			req.Storage = &storage
		}
	}
	return req, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultName suggests a name for a new VM: "VM-" and six random
// alphanumerics. The leading bytes of a v4 UUID carry no version bits.
func DefaultName() string {
	id := uuid.New()
	b := make([]byte, 6)
	for i := range b {
		b[i] = nameAlphabet[int(id[i])%len(nameAlphabet)]
	}
	return "VM-" + string(b)
}

// Wizard submits validated forms.
type Wizard struct {
	up     Upstream
	notify dispatch.Notifier
}

// New creates a wizard. A nil notifier discards notices.
func New(up Upstream, notify dispatch.Notifier) *Wizard {
	if notify == nil {
		notify = dispatch.NotifierFunc(func(dispatch.Notice) {})
	}
	return &Wizard{up: up, notify: notify}
}

// Create validates the form and, when it passes, asks the server to create
// the VM.
func (w *Wizard) Create(ctx context.Context, form Form) dispatch.Result {
	req, err := form.Request()
	if err != nil {
		metrics.RecordOperation("create_vm", string(dispatch.Rejected))
		w.notify.Notify(dispatch.Notice{Level: dispatch.LevelWarning, Message: err.Error()})
		return dispatch.Result{Outcome: dispatch.Rejected, Message: err.Error()}
	}

	res, err := w.up.CreateVM(ctx, req)
	if err != nil {
		outcome := dispatch.Unreachable
		msg := "Error creating VM: " + err.Error()
		if m, ok := upstream.ServerMessage(err); ok {
			outcome = dispatch.Failed
			msg = "Failed to create VM: " + m
		}
		metrics.RecordOperation("create_vm", string(outcome))
		logging.L().Warn("vm creation failed", zap.String("name", req.Name), zap.Error(err))
		w.notify.Notify(dispatch.Notice{Level: dispatch.LevelError, Message: msg})
		return dispatch.Result{Outcome: outcome, Message: msg}
	}

	msg := SuccessMessage(res)
	metrics.RecordOperation("create_vm", string(dispatch.Applied))
	logging.L().Info("vm creation submitted",
		zap.String("name", req.Name),
		zap.String("node", req.Node),
		zap.String("vmid", string(res.VMID)),
		zap.String("task_id", string(res.TaskID)),
	)
	w.notify.Notify(dispatch.Notice{Level: dispatch.LevelInfo, Message: msg})
	return dispatch.Result{Outcome: dispatch.Applied, Message: msg}
}

// SuccessMessage describes what the server reported starting.
func SuccessMessage(res *upstream.CreateVMResult) string {
	switch {
	case res != nil && res.VMID != "":
		return fmt.Sprintf("VM created successfully with ID: %s", res.VMID)
	case res != nil && res.TaskID != "":
		return "VM creation task started. The VM will be available shortly."
	default:
		return "VM creation task submitted successfully."
	}
}

// Option is one entry of a select list.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options is everything the creation form offers. A list that failed to load
// is empty and has its message in Errors, keyed iso, template, storage or node.
type Options struct {
	DefaultName string             `json:"default_name"`
	Node        *upstream.NodeInfo `json:"node,omitempty"`
	NodeLabel   string             `json:"node_label,omitempty"`
	ISOs        []Option           `json:"isos"`
	Templates   []Option           `json:"templates"`
	Storage     []Option           `json:"storage"`
	Errors      map[string]string  `json:"errors,omitempty"`
}

// LoadOptions fetches the node choice and the three lists concurrently.
// One failed list does not stop the others.
func LoadOptions(ctx context.Context, up Upstream) *Options {
	opts := &Options{DefaultName: DefaultName()}

	var (
		isoErr, tmplErr, storErr, nodeErr error
		isos                              []upstream.ISOImage
		templates                         []upstream.Template
		storage                           []upstream.Storage
		node                              *upstream.NodeInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		isos, isoErr = up.AvailableISOs(gctx)
		return nil
	})
	g.Go(func() error {
		templates, tmplErr = up.AvailableTemplates(gctx)
		return nil
	})
	g.Go(func() error {
		storage, storErr = up.AvailableStorage(gctx)
		return nil
	})
	g.Go(func() error {
		node, nodeErr = up.FindBestNode(gctx)
		return nil
	})
	_ = g.Wait()

	opts.Errors = map[string]string{}
	record := func(key, prefix string, err error) {
		if err == nil {
			return
		}
		if m, ok := upstream.ServerMessage(err); ok {
			opts.Errors[key] = m
			return
		}
		opts.Errors[key] = prefix + err.Error()
	}
	record("iso", "Error loading ISO images: ", isoErr)
	record("template", "Error loading templates: ", tmplErr)
	record("storage", "Error loading storage: ", storErr)
	record("node", "Error checking nodes: ", nodeErr)
	if len(opts.Errors) == 0 {
		opts.Errors = nil
	}

	opts.ISOs = ISOOptions(isos)
	opts.Templates = TemplateOptions(templates)
	opts.Storage = StorageOptions(storage)
	if node != nil {
		opts.Node = node
		opts.NodeLabel = NodeLabel(node)
	}
	return opts
}

// ISOOptions sorts images by name and labels them with their size.
func ISOOptions(isos []upstream.ISOImage) []Option {
	sorted := append([]upstream.ISOImage(nil), isos...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := make([]Option, 0, len(sorted))
	for _, iso := range sorted {
		out = append(out, Option{Value: iso.VolID, Label: iso.Name + sizeSuffix(iso.Size)})
	}
	return out
}

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

func sizeSuffix(size int64) string {
	switch {
	case size > gib:
		return fmt.Sprintf(" (%.2f GB)", float64(size)/gib)
	case size > 0:
		return fmt.Sprintf(" (%.2f MB)", float64(size)/mib)
	}
	return ""
}

// TemplateOptions sorts templates by name; labels carry the id, memory and disk.
func TemplateOptions(templates []upstream.Template) []Option {
	sorted := append([]upstream.Template(nil), templates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := make([]Option, 0, len(sorted))
	for _, t := range sorted {
		label := fmt.Sprintf("%s (%d)", t.Name, t.VMID)
		if t.Memory > 0 {
			label += fmt.Sprintf(" - %.2f GB RAM", float64(t.Memory)/gib)
		}
		if t.DiskSize > 0 {
			label += fmt.Sprintf(" - %.2f GB Disk", float64(t.DiskSize)/gib)
		}
		out = append(out, Option{Value: strconv.Itoa(t.VMID), Label: label})
	}
	return out
}

// StorageOptions sorts storages by id and labels them with free space.
func StorageOptions(storage []upstream.Storage) []Option {
	sorted := append([]upstream.Storage(nil), storage...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Storage < sorted[j].Storage })

	out := make([]Option, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, Option{
			Value: s.Storage,
			Label: fmt.Sprintf("%s (%s GB free of %s GB)", s.Storage, num(s.Avail), num(s.Total)),
		})
	}
	return out
}

// NodeLabel describes the node picked for new VMs.
func NodeLabel(n *upstream.NodeInfo) string {
	return fmt.Sprintf("%s (Memory: %s GB / %s GB, %s%% used)", n.Name, num(n.MemUsed), num(n.MemTotal), num(n.MemPercent))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

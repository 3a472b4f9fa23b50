package wizard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vm-console/dispatch"
	"vm-console/upstream"
)

type fakeUpstream struct {
	creates atomic.Int32
	last    upstream.CreateVMRequest
	result  *upstream.CreateVMResult
	err     error

	isos      []upstream.ISOImage
	templates []upstream.Template
	storage   []upstream.Storage
	storErr   error
	node      *upstream.NodeInfo
}

func (f *fakeUpstream) CreateVM(ctx context.Context, req upstream.CreateVMRequest) (*upstream.CreateVMResult, error) {
	f.creates.Add(1)
	f.last = req
	return f.result, f.err
}

func (f *fakeUpstream) AvailableISOs(ctx context.Context) ([]upstream.ISOImage, error) {
	return f.isos, nil
}

func (f *fakeUpstream) AvailableTemplates(ctx context.Context) ([]upstream.Template, error) {
	return f.templates, nil
}

func (f *fakeUpstream) AvailableStorage(ctx context.Context) ([]upstream.Storage, error) {
	return f.storage, f.storErr
}

func (f *fakeUpstream) FindBestNode(ctx context.Context) (*upstream.NodeInfo, error) {
	if f.node == nil {
		return nil, &upstream.ServerError{Message: "No suitable node found"}
	}
	return f.node, nil
}

func isoForm() Form {
	return Form{
		CreationType: FromISO,
		Name:         "web-01",
		Node:         "pve1",
		ISO:          "local:iso/debian.iso",
		Storage:      "local-lvm",
	}
}

func TestISOWithoutImageIsBlocked(t *testing.T) {
	up := &fakeUpstream{}
	notes := &dispatch.Collector{}
	w := New(up, notes)

	form := isoForm()
	form.ISO = ""
	res := w.Create(context.Background(), form)

	assert.Equal(t, dispatch.Rejected, res.Outcome)
	assert.Equal(t, "Please select an ISO image", res.Message)
	assert.Equal(t, int32(0), up.creates.Load(), "no network call")
	require.Len(t, notes.Notices(), 1)
}

func TestFormValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Form)
		want   string
	}{
		{"no type", func(f *Form) { f.CreationType = "" }, "Please select a creation method"},
		{"blank name", func(f *Form) { f.Name = "  " }, "Please enter a VM name"},
		{"no node", func(f *Form) { f.Node = "" }, "No suitable node found for VM creation"},
		{"no storage", func(f *Form) { f.Storage = "" }, "Please select a storage location"},
		{"template without id", func(f *Form) { f.CreationType = FromTemplate }, "Please select a template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := isoForm()
			tt.mutate(&form)
			_, err := form.Request()
			var ve *dispatch.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Message)
		})
	}
}

func TestISORequestDefaults(t *testing.T) {
	req, err := isoForm().Request()
	require.NoError(t, err)

	assert.Nil(t, req.VLAN)
	require.NotNil(t, req.Storage)
	assert.Equal(t, "local-lvm", *req.Storage)
	assert.Equal(t, DefaultCPU, req.CPU)
	assert.Equal(t, DefaultMemory, req.Memory)
	assert.Equal(t, DefaultDiskSize, req.DiskSize)
}

func TestTemplateRequest(t *testing.T) {
	form := Form{CreationType: FromTemplate, Name: "clone", Node: "pve2", TemplateVMID: "9000", VLAN: "20"}
	req, err := form.Request()
	require.NoError(t, err)

	assert.Nil(t, req.Storage, "source storage")
	require.NotNil(t, req.VLAN)
	assert.Equal(t, "20", *req.VLAN)
	assert.Empty(t, req.ISO)
	assert.Zero(t, req.CPU)
}

func TestCreateSuccessMessages(t *testing.T) {
	tests := []struct {
		res  *upstream.CreateVMResult
		want string
	}{
		{&upstream.CreateVMResult{VMID: "123"}, "VM created successfully with ID: 123"},
		{&upstream.CreateVMResult{TaskID: "UPID:pve1:1"}, "VM creation task started. The VM will be available shortly."},
		{&upstream.CreateVMResult{}, "VM creation task submitted successfully."},
	}
	for _, tt := range tests {
		up := &fakeUpstream{result: tt.res}
		res := New(up, nil).Create(context.Background(), isoForm())
		assert.True(t, res.OK())
		assert.Equal(t, tt.want, res.Message)
	}
}

func TestCreateFailures(t *testing.T) {
	up := &fakeUpstream{err: &upstream.ServerError{Message: "quota exceeded"}}
	res := New(up, nil).Create(context.Background(), isoForm())
	assert.Equal(t, dispatch.Failed, res.Outcome)
	assert.Equal(t, "Failed to create VM: quota exceeded", res.Message)

	up = &fakeUpstream{err: &upstream.TransportError{Call: "create vm", Err: errors.New("timeout")}}
	res = New(up, nil).Create(context.Background(), isoForm())
	assert.Equal(t, dispatch.Unreachable, res.Outcome)
	assert.Contains(t, res.Message, "Error creating VM: ")
}

func TestDefaultName(t *testing.T) {
	re := regexp.MustCompile(`^VM-[A-Za-z0-9]{6}$`)
	var upper, lower bool
	for i := 0; i < 200; i++ {
		name := DefaultName()
		require.Regexp(t, re, name)
		upper = upper || strings.ContainsAny(name[3:], "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
		lower = lower || strings.ContainsAny(name[3:], "abcdefghijklmnopqrstuvwxyz")
	}
	assert.True(t, upper, "upper-case letters drawn")
	assert.True(t, lower, "lower-case letters drawn")
}

func TestLoadOptions(t *testing.T) {
	up := &fakeUpstream{
		isos: []upstream.ISOImage{
			{VolID: "local:iso/ubuntu.iso", Name: "ubuntu.iso", Size: 3 * gib},
			{VolID: "local:iso/alpine.iso", Name: "alpine.iso", Size: 50 * mib},
		},
		templates: []upstream.Template{
			{VMID: 9001, Name: "debian-tmpl", Memory: 2 * gib, DiskSize: 10 * gib},
		},
		storErr: &upstream.TransportError{Call: "available storage", Err: errors.New("refused")},
		node:    &upstream.NodeInfo{Name: "pve1", MemUsed: 12.5, MemTotal: 64, MemPercent: 19.53},
	}

	opts := LoadOptions(context.Background(), up)

	assert.Regexp(t, `^VM-`, opts.DefaultName)
	require.Len(t, opts.ISOs, 2)
	assert.Equal(t, Option{Value: "local:iso/alpine.iso", Label: "alpine.iso (50.00 MB)"}, opts.ISOs[0])
	assert.Equal(t, "ubuntu.iso (3.00 GB)", opts.ISOs[1].Label)
	require.Len(t, opts.Templates, 1)
	assert.Equal(t, Option{Value: "9001", Label: "debian-tmpl (9001) - 2.00 GB RAM - 10.00 GB Disk"}, opts.Templates[0])
	assert.Empty(t, opts.Storage)
	assert.Contains(t, opts.Errors["storage"], "Error loading storage: ")
	assert.Equal(t, "pve1 (Memory: 12.5 GB / 64 GB, 19.53% used)", opts.NodeLabel)
}

func TestLoadOptionsWithoutNode(t *testing.T) {
	opts := LoadOptions(context.Background(), &fakeUpstream{})
	assert.Nil(t, opts.Node)
	assert.Equal(t, "No suitable node found", opts.Errors["node"])
}

func TestStorageOptionsSorted(t *testing.T) {
	got := StorageOptions([]upstream.Storage{
		{Storage: "zfs", Avail: 100, Total: 200},
		{Storage: "local-lvm", Avail: 12.75, Total: 50},
	})
	assert.Equal(t, []Option{
		{Value: "local-lvm", Label: "local-lvm (12.75 GB free of 50 GB)"},
		{Value: "zfs", Label: "zfs (100 GB free of 200 GB)"},
	}, got)
}

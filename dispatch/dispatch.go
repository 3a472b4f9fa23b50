// Package dispatch turns sidebar gestures into management server calls and
// reports each one as an explicit Result. A successful mutation is followed by
// exactly one tree reload; a failed one leaves the current tree untouched.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"vm-console/logging"
	"vm-console/metrics"
	"vm-console/tree"
	"vm-console/upstream"
)

// Upstream is the part of the management server the dispatcher calls.
type Upstream interface {
	FetchTree(ctx context.Context) (*upstream.TreePayload, error)
	MoveItem(ctx context.Context, req upstream.MoveRequest) error
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	RenameFolder(ctx context.Context, folderID, name string) error
	DeleteFolder(ctx context.Context, folderID string) error
}

// Outcome classifies a dispatched operation.
type Outcome string

const (
	Applied     Outcome = "applied"
	Rejected    Outcome = "rejected"    // failed local validation, nothing sent
	Failed      Outcome = "failed"      // server answered success=false
	Unreachable Outcome = "unreachable" // no usable answer
	Cancelled   Outcome = "cancelled"   // confirmation declined
	Stale       Outcome = "stale"       // reload superseded by a newer one
)

// Result is what one operation produced. Tree is set when a reload was applied.
type Result struct {
	Outcome  Outcome
	Message  string
	Tree     *upstream.TreePayload
	FolderID string
}

// OK reports whether the operation went through.
func (r Result) OK() bool {
	return r.Outcome == Applied
}

// ValidationError is a request refused before any call was made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Context identifies the item a context menu was opened on.
type Context struct {
	ItemID   string
	ItemType string
	Profile  string
}

// Dispatcher serializes nothing: callers drive one gesture at a time and the
// Sequencer keeps reloads from going backwards.
type Dispatcher struct {
	up     Upstream
	notify Notifier
	seq    *Sequencer

	mu      sync.RWMutex
	current *upstream.TreePayload
}

// New creates a dispatcher. A nil notifier discards notices.
func New(up Upstream, notify Notifier) *Dispatcher {
	if notify == nil {
		notify = NotifierFunc(func(Notice) {})
	}
	return &Dispatcher{
		up:     up,
		notify: notify,
		seq:    &Sequencer{},
	}
}

// Tree returns the last applied tree, nil before the first reload.
func (d *Dispatcher) Tree() *upstream.TreePayload {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// folders returns the folder list of the applied tree, nil when the tree is
// unknown or came as markup only.
func (d *Dispatcher) folders() []tree.FolderRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil || d.current.Data == nil {
		return nil
	}
	return d.current.Data.Folders
}

// Reload fetches the tree and applies it unless a newer reload already was.
func (d *Dispatcher) Reload(ctx context.Context) Result {
	seq := d.seq.Next()
	payload, err := d.up.FetchTree(ctx)
	if err != nil {
		res := d.fail("reload", "Failed to load VM tree: ", "Error loading VM tree: ", err)
		return res
	}

	d.mu.Lock()
	if !d.seq.Apply(seq) {
		d.mu.Unlock()
		metrics.RecordStaleReload()
		metrics.RecordOperation("reload", string(Stale))
		logging.L().Debug("discarded stale tree reload", zap.Uint64("seq", seq))
		return Result{Outcome: Stale}
	}
	d.current = payload
	d.mu.Unlock()

	if payload.Data != nil {
		metrics.SetTreeFolders(len(payload.Data.Folders))
	}
	metrics.RecordOperation("reload", string(Applied))
	return Result{Outcome: Applied, Tree: payload}
}

// Move relocates a VM or folder. Drag-and-drop and the destination picker both
// end up here.
func (d *Dispatcher) Move(ctx context.Context, req upstream.MoveRequest) Result {
	if err := d.checkMove(req); err != nil {
		return d.reject("move", err)
	}

	if err := d.up.MoveItem(ctx, req); err != nil {
		return d.fail("move", "Failed to move item: ", "Error moving item: ", err)
	}

	logging.L().Info("item moved",
		zap.String("item_id", req.ItemID),
		zap.String("item_type", req.ItemType),
		zap.String("parent_id", req.ParentID),
	)
	return d.applied(ctx, "move", "")
}

// MoveContext moves the item a context menu was opened on.
func (d *Dispatcher) MoveContext(ctx context.Context, mc Context, parentID string) Result {
	return d.Move(ctx, upstream.MoveRequest{ItemID: mc.ItemID, ItemType: mc.ItemType, ParentID: parentID})
}

// checkMove validates a move request. Only a folder moving into its own
// subtree is refused here; unknown destinations are left to the server.
func (d *Dispatcher) checkMove(req upstream.MoveRequest) *ValidationError {
	if req.ItemID == "" {
		return &ValidationError{Message: "No item selected"}
	}
	if req.ItemType != tree.ItemVM && req.ItemType != tree.ItemFolder {
		return &ValidationError{Message: fmt.Sprintf("Invalid item type: %q", req.ItemType)}
	}
	if req.ParentID == "" {
		return &ValidationError{Message: "Please select a destination folder"}
	}
	if req.ItemType != tree.ItemFolder {
		return nil
	}
	if req.ItemID == req.ParentID {
		return &ValidationError{Message: "Cannot move a folder into itself"}
	}
	if tree.IsDescendant(d.folders(), req.ItemID, req.ParentID) {
		return &ValidationError{Message: "Cannot move a folder into itself or one of its subfolders"}
	}
	return nil
}

// Rename changes a folder's name. The name is sent as typed; only a blank
// one is refused.
func (d *Dispatcher) Rename(ctx context.Context, folderID, name string) Result {
	if folderID == "" {
		return d.reject("rename", &ValidationError{Message: "No folder selected"})
	}
	if strings.TrimSpace(name) == "" {
		return d.reject("rename", &ValidationError{Message: "Please enter a folder name"})
	}

	if err := d.up.RenameFolder(ctx, folderID, name); err != nil {
		return d.fail("rename", "Failed to rename folder: ", "Error renaming folder: ", err)
	}
	return d.applied(ctx, "rename", "")
}

// DeletePrompt is the question asked before a folder is deleted.
const DeletePrompt = "Are you sure you want to delete this folder? All items will be moved to the parent folder."

// Delete removes a folder after confirm agrees. The server moves its children
// up to its parent.
func (d *Dispatcher) Delete(ctx context.Context, folderID string, confirm Confirmer) Result {
	if folderID == "" {
		return d.reject("delete", &ValidationError{Message: "No folder selected"})
	}
	if confirm == nil || !confirm.Confirm(DeletePrompt) {
		metrics.RecordOperation("delete", string(Cancelled))
		return Result{Outcome: Cancelled}
	}

	if err := d.up.DeleteFolder(ctx, folderID); err != nil {
		return d.fail("delete", "Failed to delete folder: ", "Error deleting folder: ", err)
	}
	logging.L().Info("folder deleted", zap.String("folder_id", folderID))
	return d.applied(ctx, "delete", "")
}

// CreateFolder adds a folder under parentID, root when empty.
func (d *Dispatcher) CreateFolder(ctx context.Context, name, parentID string) Result {
	if strings.TrimSpace(name) == "" {
		return d.reject("create_folder", &ValidationError{Message: "Please enter a folder name"})
	}
	if parentID == "" {
		parentID = tree.RootID
	}

	id, err := d.up.CreateFolder(ctx, strings.TrimSpace(name), parentID)
	if err != nil {
		return d.fail("create_folder", "Failed to create folder: ", "Error creating folder: ", err)
	}
	return d.applied(ctx, "create_folder", id)
}

// applied finishes a successful mutation with its single reload.
func (d *Dispatcher) applied(ctx context.Context, op, folderID string) Result {
	metrics.RecordOperation(op, string(Applied))
	res := Result{Outcome: Applied, FolderID: folderID}

	reload := d.Reload(ctx)
	switch reload.Outcome {
	case Applied:
		res.Tree = reload.Tree
	case Stale:
		res.Tree = d.Tree()
	}
	return res
}

func (d *Dispatcher) reject(op string, err *ValidationError) Result {
	metrics.RecordOperation(op, string(Rejected))
	d.notify.Notify(Notice{Level: LevelWarning, Message: err.Message})
	return Result{Outcome: Rejected, Message: err.Message}
}

// fail classifies an upstream error: server-reported failures use failPrefix,
// everything else errPrefix.
func (d *Dispatcher) fail(op, failPrefix, errPrefix string, err error) Result {
	outcome := Unreachable
	msg := errPrefix + err.Error()
	if m, ok := upstream.ServerMessage(err); ok {
		outcome = Failed
		msg = failPrefix + m
	}

	metrics.RecordOperation(op, string(outcome))
	logging.L().Warn("operation failed",
		zap.String("operation", op),
		zap.String("outcome", string(outcome)),
		zap.Error(err),
	)
	d.notify.Notify(Notice{Level: LevelError, Message: msg})
	return Result{Outcome: outcome, Message: msg}
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vm-console/tree"
	"vm-console/upstream"
)

type fakeUpstream struct {
	mu sync.Mutex

	folders []tree.FolderRecord
	moveErr error
	fetches int
	moves   []upstream.MoveRequest
	renames map[string]string
	deletes []string
	created []string

	// fetchHook runs inside FetchTree before it returns, with the call number.
	fetchHook func(n int)
}

func (f *fakeUpstream) FetchTree(ctx context.Context) (*upstream.TreePayload, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	folders := append([]tree.FolderRecord(nil), f.folders...)
	hook := f.fetchHook
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return &upstream.TreePayload{Data: &upstream.TreeData{Folders: folders}, HTML: string(rune('0' + n))}, nil
}

func (f *fakeUpstream) MoveItem(ctx context.Context, req upstream.MoveRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, req)
	return f.moveErr
}

func (f *fakeUpstream) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name+"@"+parentID)
	return "NEW", nil
}

func (f *fakeUpstream) RenameFolder(ctx context.Context, folderID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renames == nil {
		f.renames = map[string]string{}
	}
	f.renames[folderID] = name
	return nil
}

func (f *fakeUpstream) DeleteFolder(ctx context.Context, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, folderID)
	return nil
}

func chain() []tree.FolderRecord {
	return []tree.FolderRecord{
		{ID: "A", Name: "alpha", ParentID: tree.RootID},
		{ID: "B", Name: "beta", ParentID: "A"},
		{ID: "C", Name: "gamma", ParentID: "B"},
	}
}

func newDispatcher(t *testing.T, up *fakeUpstream) (*Dispatcher, *Collector) {
	t.Helper()
	notes := &Collector{}
	d := New(up, notes)
	require.Equal(t, Applied, d.Reload(context.Background()).Outcome)
	return d, notes
}

func TestMoveAppliesAndReloadsOnce(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, notes := newDispatcher(t, up)

	res := d.Move(context.Background(), upstream.MoveRequest{ItemID: "100", ItemType: tree.ItemVM, ParentID: "C"})
	require.True(t, res.OK())
	require.NotNil(t, res.Tree)
	assert.Equal(t, 2, up.fetches)
	assert.Len(t, up.moves, 1)
	assert.Empty(t, notes.Notices())
}

func TestMoveServerFailureNotifiesWithoutReload(t *testing.T) {
	up := &fakeUpstream{folders: chain(), moveErr: &upstream.ServerError{Message: "locked"}}
	d, notes := newDispatcher(t, up)
	before := d.Tree()

	res := d.Move(context.Background(), upstream.MoveRequest{ItemID: "100", ItemType: tree.ItemVM, ParentID: "B"})
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, "Failed to move item: locked", res.Message)
	assert.Equal(t, 1, up.fetches, "no reload after a failed move")
	assert.Same(t, before, d.Tree())

	got := notes.Notices()
	require.Len(t, got, 1)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Contains(t, got[0].Message, "locked")
}

func TestMoveTransportFailure(t *testing.T) {
	up := &fakeUpstream{folders: chain(), moveErr: &upstream.TransportError{Call: "move item", Err: errors.New("connection refused")}}
	d, notes := newDispatcher(t, up)

	res := d.Move(context.Background(), upstream.MoveRequest{ItemID: "100", ItemType: tree.ItemVM, ParentID: "B"})
	assert.Equal(t, Unreachable, res.Outcome)
	assert.Contains(t, res.Message, "Error moving item: ")
	assert.Contains(t, res.Message, "connection refused")
	assert.Len(t, notes.Notices(), 1)
	assert.Equal(t, 1, up.fetches)
}

func TestMoveFolderIntoOwnSubtreeIsRejectedLocally(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, notes := newDispatcher(t, up)

	for _, dest := range []string{"A", "B", "C"} {
		res := d.Move(context.Background(), upstream.MoveRequest{ItemID: "A", ItemType: tree.ItemFolder, ParentID: dest})
		assert.Equal(t, Rejected, res.Outcome, dest)
	}
	assert.Empty(t, up.moves, "nothing sent")
	assert.Len(t, notes.Notices(), 3)

	res := d.Move(context.Background(), upstream.MoveRequest{ItemID: "C", ItemType: tree.ItemFolder, ParentID: tree.RootID})
	assert.True(t, res.OK())
}

func TestMoveValidation(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, _ := newDispatcher(t, up)

	tests := []struct {
		name string
		req  upstream.MoveRequest
	}{
		{"no item", upstream.MoveRequest{ItemType: tree.ItemVM, ParentID: "A"}},
		{"bad type", upstream.MoveRequest{ItemID: "100", ItemType: "disk", ParentID: "A"}},
		{"no destination", upstream.MoveRequest{ItemID: "100", ItemType: tree.ItemVM}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Move(context.Background(), tt.req)
			assert.Equal(t, Rejected, res.Outcome)
			assert.NotEmpty(t, res.Message)
		})
	}
	assert.Empty(t, up.moves)
}

func TestMoveToFolderMissingFromCachedTree(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, notes := newDispatcher(t, up)

	// another session created D after this tree was loaded
	up.mu.Lock()
	up.folders = append(up.folders, tree.FolderRecord{ID: "D", Name: "delta", ParentID: tree.RootID})
	up.mu.Unlock()

	res := d.Move(context.Background(), upstream.MoveRequest{ItemID: "100", ItemType: tree.ItemVM, ParentID: "D"})
	require.True(t, res.OK(), res.Message)
	res = d.Move(context.Background(), upstream.MoveRequest{ItemID: "C", ItemType: tree.ItemFolder, ParentID: "Z"})
	require.True(t, res.OK(), res.Message)

	assert.Len(t, up.moves, 2)
	assert.Empty(t, notes.Notices())
}

func TestMoveWithoutTreeDefersToServer(t *testing.T) {
	up := &fakeUpstream{}
	d := New(up, nil)

	res := d.MoveContext(context.Background(), Context{ItemID: "B", ItemType: tree.ItemFolder}, "C")
	assert.True(t, res.OK())

	res = d.MoveContext(context.Background(), Context{ItemID: "B", ItemType: tree.ItemFolder}, "B")
	assert.Equal(t, Rejected, res.Outcome)
	assert.Len(t, up.moves, 1)
}

func TestRename(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, _ := newDispatcher(t, up)

	res := d.Rename(context.Background(), "A", "   ")
	assert.Equal(t, Rejected, res.Outcome)
	assert.Empty(t, up.renames)

	res = d.Rename(context.Background(), "A", " prod ")
	require.True(t, res.OK())
	assert.Equal(t, " prod ", up.renames["A"])
	assert.Equal(t, 2, up.fetches)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, _ := newDispatcher(t, up)

	var asked string
	res := d.Delete(context.Background(), "B", ConfirmFunc(func(p string) bool {
		asked = p
		return false
	}))
	assert.Equal(t, Cancelled, res.Outcome)
	assert.Equal(t, DeletePrompt, asked)
	assert.Empty(t, up.deletes)
	assert.Equal(t, 1, up.fetches)

	res = d.Delete(context.Background(), "B", nil)
	assert.Equal(t, Cancelled, res.Outcome)

	res = d.Delete(context.Background(), "B", Always(true))
	require.True(t, res.OK())
	assert.Equal(t, []string{"B"}, up.deletes)
	assert.Equal(t, 2, up.fetches)
}

func TestCreateFolder(t *testing.T) {
	up := &fakeUpstream{folders: chain()}
	d, _ := newDispatcher(t, up)

	res := d.CreateFolder(context.Background(), "", "A")
	assert.Equal(t, Rejected, res.Outcome)

	res = d.CreateFolder(context.Background(), " staging ", "")
	require.True(t, res.OK())
	assert.Equal(t, "NEW", res.FolderID)
	assert.Equal(t, []string{"staging@root"}, up.created)
}

func TestStaleReloadIsDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})

	up := &fakeUpstream{folders: chain()}
	up.fetchHook = func(n int) {
		if n == 1 {
			close(firstStarted)
			<-releaseFirst
		}
	}
	d := New(up, nil)

	var first Result
	done := make(chan struct{})
	go func() {
		first = d.Reload(context.Background())
		close(done)
	}()

	<-firstStarted
	second := d.Reload(context.Background())
	require.Equal(t, Applied, second.Outcome)
	close(releaseFirst)
	<-done

	assert.Equal(t, Stale, first.Outcome)
	assert.Equal(t, "2", d.Tree().HTML, "the newer tree stays applied")
}

func TestSequencer(t *testing.T) {
	var s Sequencer
	a, b := s.Next(), s.Next()
	assert.True(t, s.Apply(b))
	assert.False(t, s.Apply(a))
	assert.False(t, s.Apply(b))
	assert.Equal(t, b, s.Applied())
}

package sync

type OpType string

const (
	OpWriteRemote  OpType = "WriteRemote"
	OpWriteLocal   OpType = "WriteLocal"
	OpDeleteRemote OpType = "DeleteRemote"
	OpDeleteLocal  OpType = "DeleteLocal"
	OpMkdirLocal   OpType = "MkdirLocal"
	OpConflict     OpType = "Conflict"
	OpCleanup      OpType = "Cleanup"
	OpSkipped      OpType = "Skipped"
)

const (
	ReasonNotFoundLocally  = "not found locally"
	ReasonRemoteChanged    = "remote file changed"
	ReasonNotFoundRemotely = "not found remotely"
	ReasonLocalChanged     = "local file changed"
	ReasonPreferRemote     = "preferring remote file"
	ReasonPreferLocal      = "preferring local file"
	ReasonRemoteDeleted    = "file no longer on remote"
	ReasonLocalDeleted     = "file deleted locally"
	ReasonFolderEmpty      = "folder empty"
	ReasonRemoteFolder     = "folder on remote"
	ReasonBothChanged      = "changed on both sides"
	ReasonKeptModified     = "modified locally, kept"
)

// Action is one step the engine took (or failed to take) on a path.
type Action struct {
	Op     OpType
	Path   string
	Reason string
	Size   int64
	Remote bool
	Err    error
}

// Observer receives engine events. Implementations must be safe for
// concurrent use, transfers run in parallel.
type Observer interface {
	OnAction(a Action)
	OnProgress(path string, sent int64, total int64)
}

type nopObserver struct{}

func (nopObserver) OnAction(Action)                {}
func (nopObserver) OnProgress(string, int64, int64) {}

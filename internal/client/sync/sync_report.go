package sync

import (
	"sync"
	"time"
)

// Report summarizes one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	Downloaded           int
	Uploaded             int
	DeletedLocal         int
	DeletedRemote        int
	FoldersCreated       int
	FoldersRemoved       int
	RemoteFoldersRemoved int
	Conflicts            int
	Unresolved           int
	Failed               int

	mu sync.Mutex
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, Started: time.Now()}
}

func (r *Report) count(op OpType, remote bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch op {
	case OpWriteLocal:
		r.Downloaded++
	case OpWriteRemote:
		r.Uploaded++
	case OpDeleteLocal:
		r.DeletedLocal++
	case OpDeleteRemote:
		r.DeletedRemote++
	case OpMkdirLocal:
		r.FoldersCreated++
	case OpConflict:
		r.Conflicts++
	case OpCleanup:
		if remote {
			r.RemoteFoldersRemoved++
		} else {
			r.FoldersRemoved++
		}
	}
}

func (r *Report) unresolved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unresolved++
}

func (r *Report) failed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished = time.Now()
}

// Transfers counts content transfers and deletions carried out.
func (r *Report) Transfers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Downloaded + r.Uploaded + r.DeletedLocal + r.DeletedRemote
}

// HasChanges reports whether the run touched anything on either side.
func (r *Report) HasChanges() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Downloaded+r.Uploaded+r.DeletedLocal+r.DeletedRemote+
		r.FoldersCreated+r.FoldersRemoved+r.RemoteFoldersRemoved > 0
}

func (r *Report) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

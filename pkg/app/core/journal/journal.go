// Package journal records undo steps for in-memory state so a failed
// operation can be rolled back as a unit. Snapshots nest.
package journal

type Journal struct {
	entries []func()
	marks   []int
}

func New() *Journal {
	return &Journal{}
}

// Active reports whether a snapshot is open. Undo steps are only kept while
// one is.
func (j *Journal) Active() bool {
	return j != nil && len(j.marks) > 0
}

// Append registers an undo step. It is a no-op outside a snapshot.
func (j *Journal) Append(undo func()) {
	if !j.Active() {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot opens a revision and returns its id.
func (j *Journal) Snapshot() int {
	j.marks = append(j.marks, len(j.entries))
	return len(j.marks) - 1
}

// RevertToSnapshot undoes every step recorded since id, newest first, and
// closes id together with any revision opened after it.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id >= len(j.marks) {
		return
	}
	mark := j.marks[id]
	for i := len(j.entries) - 1; i >= mark; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:mark]
	j.marks = j.marks[:id]
}

// DiscardSnapshot keeps the changes made since id. The undo steps stay
// available to an enclosing revision.
func (j *Journal) DiscardSnapshot(id int) {
	if id < 0 || id >= len(j.marks) {
		return
	}
	j.marks = j.marks[:id]
	if len(j.marks) == 0 {
		j.entries = j.entries[:0]
	}
}

// Atomic runs fn inside a revision and rolls back if it returns an error.
func (j *Journal) Atomic(fn func() error) error {
	id := j.Snapshot()
	if err := fn(); err != nil {
		j.RevertToSnapshot(id)
		return err
	}
	j.DiscardSnapshot(id)
	return nil
}

package monitor

// Deduplicator guarantees that a track produces at most one event of each kind.
// Track IDs are never reused, so the state of a destroyed track can be dropped
// without weakening the guarantee.
type Deduplicator struct {
	fired [numViolationKinds]map[int64]bool
}

func NewDeduplicator() *Deduplicator {
	d := &Deduplicator{}
	for i := range d.fired {
		d.fired[i] = map[int64]bool{}
	}
	return d
}

// TryMark returns true if this is the first time that (trackID, kind) is seen
func (d *Deduplicator) TryMark(trackID int64, kind ViolationKind) bool {
	if d.fired[kind][trackID] {
		return false
	}
	d.fired[kind][trackID] = true
	return true
}

func (d *Deduplicator) Has(trackID int64, kind ViolationKind) bool {
	return d.fired[kind][trackID]
}

// Forget drops all state for a track that has been destroyed
func (d *Deduplicator) Forget(trackID int64) {
	for _, m := range d.fired {
		delete(m, trackID)
	}
}

// Len is the number of (track, kind) pairs that are remembered
func (d *Deduplicator) Len() int {
	n := 0
	for _, m := range d.fired {
		n += len(m)
	}
	return n
}

package itip

import "fmt"

// DiffKind classifies how an instance changed between two snapshots.
type DiffKind int

const (
	DiffUnchanged DiffKind = iota
	DiffAdded
	DiffRemoved
	DiffModified
	DiffAttendeeSetChanged
	DiffCosmetic
)

// InstanceDiff is the per-instance classification produced by the
// Diff & Significance Classifier (C2, spec §4.2).
type InstanceDiff struct {
	ID               InstanceID
	Kind             DiffKind
	Significant      bool
	AddedAttendees   []string // present in new, absent in old (by address)
	RemovedAttendees []string // present in old, absent in new (by address)
}

// DiffSnapshots compares two snapshots of the same scheduling object
// and classifies every instance present in either. old may be nil
// (object creation).
func DiffSnapshots(old, new *Snapshot) ([]InstanceDiff, error) {
	if new == nil {
		return nil, fmt.Errorf("itip: diff requires a new snapshot: %w", ErrMalformed)
	}
	if old != nil && old.UID != new.UID {
		return nil, fmt.Errorf("itip: UID changed between snapshots: %w", ErrUidMismatch)
	}
	if old != nil && !old.Organizer.Email.Equal(new.Organizer.Email) {
		return nil, fmt.Errorf("itip: organizer address changed: %w", ErrOrganizerMismatch)
	}

	ids := unionInstanceIDs(old, new)
	diffs := make([]InstanceDiff, 0, len(ids))

	for _, id := range ids {
		oldInst, hasOld := instanceOf(old, id)
		newInst, hasNew := instanceOf(new, id)

		switch {
		case !hasOld && hasNew:
			diffs = append(diffs, InstanceDiff{ID: id, Kind: DiffAdded, Significant: true})
		case hasOld && !hasNew:
			diffs = append(diffs, InstanceDiff{ID: id, Kind: DiffRemoved, Significant: true})
		default:
			diffs = append(diffs, diffInstance(id, oldInst, newInst))
		}
	}

	return diffs, nil
}

func diffInstance(id InstanceID, oldInst, newInst InstanceSnapshot) InstanceDiff {
	added, removed := attendeeSetDelta(oldInst, newInst)
	if len(added) > 0 || len(removed) > 0 {
		return InstanceDiff{
			ID:               id,
			Kind:             DiffAttendeeSetChanged,
			Significant:      true,
			AddedAttendees:   added,
			RemovedAttendees: removed,
		}
	}

	if oldInst.Fingerprint != newInst.Fingerprint {
		return InstanceDiff{ID: id, Kind: DiffModified, Significant: true}
	}

	if partStatsDiffer(oldInst, newInst) {
		return InstanceDiff{ID: id, Kind: DiffCosmetic, Significant: false}
	}

	return InstanceDiff{ID: id, Kind: DiffUnchanged, Significant: false}
}

func attendeeSetDelta(oldInst, newInst InstanceSnapshot) (added, removed []string) {
	for addr := range newInst.Attendees {
		if _, ok := oldInst.Attendees[addr]; !ok {
			added = append(added, addr)
		}
	}
	for addr := range oldInst.Attendees {
		if _, ok := newInst.Attendees[addr]; !ok {
			removed = append(removed, addr)
		}
	}
	sortStrings(added)
	sortStrings(removed)
	return added, removed
}

func partStatsDiffer(oldInst, newInst InstanceSnapshot) bool {
	for addr, np := range newInst.Attendees {
		if op, ok := oldInst.Attendees[addr]; ok {
			if op.PartStat != np.PartStat || op.RSVP != np.RSVP {
				return true
			}
		}
	}
	return false
}

func unionInstanceIDs(old, new *Snapshot) []InstanceID {
	seen := make(map[InstanceID]bool)
	var ids []InstanceID
	add := func(s *Snapshot) {
		if s == nil {
			return
		}
		for id := range s.Instances {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	add(old)
	add(new)
	sortInstanceIDs(ids)
	return ids
}

func instanceOf(s *Snapshot, id InstanceID) (InstanceSnapshot, bool) {
	if s == nil {
		return InstanceSnapshot{}, false
	}
	inst, ok := s.Instances[id]
	return inst, ok
}

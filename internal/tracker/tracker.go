// Package tracker provides the work tracker client.
//
// The tracker is the single source of truth for work items and their
// labels. The fleet reads and writes it exclusively through the wk CLI;
// nothing in this repo touches the tracker's storage directly. All label
// state lives in the tracker so a daemon restart loses nothing.
package tracker

import (
	"context"
	"errors"
	"time"
)

// Tracker errors.
var (
	// ErrConflict means a relabel lost the race: the expected from-label
	// was gone by the time the write landed.
	ErrConflict = errors.New("label conflict: item changed underneath")

	// ErrNotFound means the item does not exist in the tracker.
	ErrNotFound = errors.New("item not found")
)

// Label is a tracker label. Primary labels form the lifecycle chain;
// modifier labels ride alongside whatever primary label is present.
type Label string

// Primary lifecycle labels, in chain order.
const (
	LabelNew              Label = "new"
	LabelCurated          Label = "curated"
	LabelApproved         Label = "approved"
	LabelBuilding         Label = "building"
	LabelReviewing        Label = "reviewing"
	LabelApprovedForMerge Label = "approved-for-merge"
	LabelDone             Label = "done"
)

// Modifier labels.
const (
	LabelBlocked Label = "blocked"
	LabelUrgent  Label = "urgent"
)

// PrimaryChain lists the lifecycle labels in order. Items move forward
// through the chain one hop at a time; every item carries exactly one.
var PrimaryChain = []Label{
	LabelNew,
	LabelCurated,
	LabelApproved,
	LabelBuilding,
	LabelReviewing,
	LabelApprovedForMerge,
	LabelDone,
}

// IsPrimary reports whether l is a lifecycle label.
func (l Label) IsPrimary() bool {
	for _, p := range PrimaryChain {
		if l == p {
			return true
		}
	}
	return false
}

// IsModifier reports whether l is a modifier label.
func (l Label) IsModifier() bool {
	return l == LabelBlocked || l == LabelUrgent
}

// ChainIndex returns l's position in the primary chain, or -1.
func (l Label) ChainIndex() int {
	for i, p := range PrimaryChain {
		if l == p {
			return i
		}
	}
	return -1
}

// Item statuses as reported by the tracker.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Item is a tracker work item.
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

// HasLabel reports whether the item carries the label.
func (it *Item) HasLabel(l Label) bool {
	for _, have := range it.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// PrimaryLabels returns every lifecycle label the item carries. A healthy
// item returns exactly one; zero or several means the invariant is broken
// and reconciliation must repair it.
func (it *Item) PrimaryLabels() []Label {
	var primaries []Label
	for _, l := range it.Labels {
		if l.IsPrimary() {
			primaries = append(primaries, l)
		}
	}
	return primaries
}

// IsClosed reports whether the tracker considers the item closed.
func (it *Item) IsClosed() bool {
	return it.Status == StatusClosed
}

// ListFilter restricts a List call.
type ListFilter struct {
	// Label restricts results to items carrying the label. Empty lists
	// every item.
	Label Label

	// IncludeClosed includes closed items. Off by default so fleet scans
	// only see live work.
	IncludeClosed bool
}

// Client is the tracker operation surface the fleet depends on. Every
// method is idempotent or safe to retry; Relabel is the only compare-and
// -swap and reports ErrConflict when it loses.
type Client interface {
	// List returns items matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*Item, error)

	// Get returns one item by ID.
	Get(ctx context.Context, id string) (*Item, error)

	// Relabel atomically replaces from with to. The tracker verifies that
	// from is still present before writing; a stale from is ErrConflict
	// and the item is left untouched.
	Relabel(ctx context.Context, id string, from, to Label) error

	// AddLabel adds a label. Adding a label already present is a no-op.
	AddLabel(ctx context.Context, id string, label Label) error

	// RemoveLabel removes a label. Removing an absent label is a no-op.
	RemoveLabel(ctx context.Context, id string, label Label) error

	// Comment appends a comment to the item.
	Comment(ctx context.Context, id, body string) error

	// Merge merges the item's branch into the default branch.
	Merge(ctx context.Context, id, branch string) error

	// Close closes the item in the tracker.
	Close(ctx context.Context, id string) error
}

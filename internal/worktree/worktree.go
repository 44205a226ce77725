// Package worktree manages per-item git worktrees.
//
// Every claimed work item gets an isolated worktree under
// .shepherd/worktrees/<item-id> on its own shep/<item-id> branch, so
// parallel shepherds never share a checkout. Removal is deliberately
// conservative: merged, grace elapsed, and clean, unless forced.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/git"
	"github.com/rjwalters/loom-sub010/internal/state"
)

// Removal gate errors.
var (
	// ErrNotTracked means no metadata exists for the item.
	ErrNotTracked = errors.New("worktree not tracked")

	// ErrNotMerged means the item's change has not been marked merged.
	ErrNotMerged = errors.New("worktree branch not merged")

	// ErrGraceNotElapsed means the merge is too recent to clean up.
	ErrGraceNotElapsed = errors.New("merge grace period not elapsed")

	// ErrUncommitted means the worktree holds uncommitted changes.
	ErrUncommitted = errors.New("worktree has uncommitted changes")
)

// UncommittedError reports which files block a removal.
type UncommittedError struct {
	ItemID string
	Files  []string
}

func (e *UncommittedError) Error() string {
	return fmt.Sprintf("worktree for %s has uncommitted changes: %s",
		e.ItemID, strings.Join(e.Files, ", "))
}

func (e *UncommittedError) Unwrap() error {
	return ErrUncommitted
}

// Meta is the persisted record for one worktree.
type Meta struct {
	ItemID    string     `json:"item_id"`
	Path      string     `json:"path"`
	Branch    string     `json:"branch"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

// metaFile is the worktrees.json document.
type metaFile struct {
	Worktrees map[string]*Meta `json:"worktrees"`
}

func defaultMetaFile() *metaFile {
	return &metaFile{Worktrees: make(map[string]*Meta)}
}

// Manager creates, tracks, and removes worktrees for one fleet root.
type Manager struct {
	root       string
	git        *git.Git
	store      *state.Manager[metaFile]
	baseBranch string
	mergeGrace time.Duration
}

// NewManager returns a Manager for the repository at root. baseBranch is
// the branch worktrees are cut from; mergeGrace is how long a merged
// worktree is kept before Remove will take it.
func NewManager(root, baseBranch string, mergeGrace time.Duration) *Manager {
	return &Manager{
		root:       root,
		git:        git.New(root),
		store:      state.NewManager(constants.ShepherdDir(root), constants.FileWorktrees, defaultMetaFile),
		baseBranch: baseBranch,
		mergeGrace: mergeGrace,
	}
}

// Branch returns the branch name used for an item's worktree.
func (m *Manager) Branch(itemID string) string {
	return constants.BranchPrefix + itemID
}

// Create makes the worktree for an item and records its metadata. Calling
// Create for an item that already has a live worktree returns the
// existing record, so an interrupted claim can resume.
func (m *Manager) Create(ctx context.Context, itemID string) (*Meta, error) {
	doc, _ := m.store.Load()

	path := constants.WorktreePath(m.root, itemID)
	if meta, ok := doc.Worktrees[itemID]; ok {
		if _, err := os.Stat(meta.Path); err == nil {
			return meta, nil
		}
		// Metadata without a directory: recreate below.
	}

	if err := m.git.WorktreeAddFromRef(ctx, path, m.Branch(itemID), m.baseBranch); err != nil {
		return nil, err
	}

	meta := &Meta{
		ItemID:    itemID,
		Path:      path,
		Branch:    m.Branch(itemID),
		CreatedAt: time.Now().UTC(),
	}
	doc.Worktrees[itemID] = meta
	if err := m.store.Save(doc); err != nil {
		return nil, fmt.Errorf("recording worktree: %w", err)
	}
	return meta, nil
}

// RemoveOptions configures Remove.
type RemoveOptions struct {
	// Force skips the merged, grace, and clean checks.
	Force bool
}

// Remove deletes an item's worktree and branch. Without force it refuses
// unless the item was marked merged, the merge grace has elapsed, and the
// tree is clean.
func (m *Manager) Remove(ctx context.Context, itemID string, opts RemoveOptions) error {
	doc, _ := m.store.Load()
	meta, ok := doc.Worktrees[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, itemID)
	}

	if !opts.Force {
		if meta.MergedAt == nil {
			return fmt.Errorf("%w: %s", ErrNotMerged, itemID)
		}
		if elapsed := time.Since(*meta.MergedAt); elapsed < m.mergeGrace {
			return fmt.Errorf("%w: %s merged %s ago, grace is %s",
				ErrGraceNotElapsed, itemID, elapsed.Round(time.Second), m.mergeGrace)
		}
		files, err := m.git.StatusPorcelain(ctx, meta.Path)
		if err != nil {
			return fmt.Errorf("checking worktree status: %w", err)
		}
		if len(files) > 0 {
			return &UncommittedError{ItemID: itemID, Files: files}
		}
	}

	if _, err := os.Stat(meta.Path); err == nil {
		if err := m.git.WorktreeRemove(ctx, meta.Path, opts.Force); err != nil {
			return err
		}
	}
	_ = m.git.WorktreePrune(ctx)
	// The branch is merged or the removal was forced either way.
	_ = m.git.DeleteBranch(ctx, meta.Branch, true)

	delete(doc.Worktrees, itemID)
	if err := m.store.Save(doc); err != nil {
		return fmt.Errorf("recording removal: %w", err)
	}
	return nil
}

// MarkMerged records when an item's change landed on the base branch.
// The removal grace period counts from this timestamp.
func (m *Manager) MarkMerged(itemID string, when time.Time) error {
	doc, _ := m.store.Load()
	meta, ok := doc.Worktrees[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, itemID)
	}
	t := when.UTC()
	meta.MergedAt = &t
	return m.store.Save(doc)
}

// Get returns the metadata for an item's worktree.
func (m *Manager) Get(itemID string) (*Meta, bool) {
	doc, _ := m.store.Load()
	meta, ok := doc.Worktrees[itemID]
	return meta, ok
}

// Exists reports whether the item's worktree directory is present.
func (m *Manager) Exists(itemID string) bool {
	info, err := os.Stat(constants.WorktreePath(m.root, itemID))
	return err == nil && info.IsDir()
}

// Tracked returns all metadata records, oldest first.
func (m *Manager) Tracked() []*Meta {
	doc, _ := m.store.Load()
	metas := make([]*Meta, 0, len(doc.Worktrees))
	for _, meta := range doc.Worktrees {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas
}

// List returns the live worktrees git reports under this fleet's
// worktree directory.
func (m *Manager) List(ctx context.Context) ([]git.WorktreeInfo, error) {
	infos, err := m.git.WorktreeList(ctx)
	if err != nil {
		return nil, err
	}
	prefix := constants.WorktreesDir(m.root) + string(os.PathSeparator)
	var ours []git.WorktreeInfo
	for _, info := range infos {
		if strings.HasPrefix(info.Path, prefix) {
			ours = append(ours, info)
		}
	}
	return ours, nil
}

// OrphanAction is what the startup sweep should do with a leftover.
type OrphanAction string

const (
	// OrphanDropMeta drops metadata whose directory is gone.
	OrphanDropMeta OrphanAction = "drop-meta"

	// OrphanAdopt re-records a live worktree for a still-open item.
	OrphanAdopt OrphanAction = "adopt"

	// OrphanRemove force-removes a worktree whose item is closed.
	OrphanRemove OrphanAction = "remove"
)

// Orphan is one leftover found by the startup sweep.
type Orphan struct {
	ItemID string
	Path   string
	Branch string
	Action OrphanAction
}

// Orphans reconciles metadata against live git worktrees and the tracker.
// isClosed reports whether an item is closed; closed items' worktrees are
// marked for removal, open ones without metadata for adoption, and
// metadata without a directory for dropping.
func (m *Manager) Orphans(ctx context.Context, isClosed func(itemID string) (bool, error)) ([]Orphan, error) {
	doc, _ := m.store.Load()

	live, err := m.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	livePaths := make(map[string]git.WorktreeInfo, len(live))
	for _, info := range live {
		livePaths[info.Path] = info
	}

	var orphans []Orphan

	for itemID, meta := range doc.Worktrees {
		if _, err := os.Stat(meta.Path); os.IsNotExist(err) {
			orphans = append(orphans, Orphan{
				ItemID: itemID,
				Path:   meta.Path,
				Branch: meta.Branch,
				Action: OrphanDropMeta,
			})
			continue
		}
		closed, err := isClosed(itemID)
		if err != nil {
			return nil, fmt.Errorf("checking item %s: %w", itemID, err)
		}
		if closed {
			orphans = append(orphans, Orphan{
				ItemID: itemID,
				Path:   meta.Path,
				Branch: meta.Branch,
				Action: OrphanRemove,
			})
		}
	}

	tracked := func(path string) bool {
		for _, meta := range doc.Worktrees {
			if meta.Path == path {
				return true
			}
		}
		return false
	}
	for _, info := range live {
		if tracked(info.Path) {
			continue
		}
		itemID := itemIDFromPath(info.Path)
		closed, err := isClosed(itemID)
		if err != nil {
			return nil, fmt.Errorf("checking item %s: %w", itemID, err)
		}
		action := OrphanAdopt
		if closed {
			action = OrphanRemove
		}
		orphans = append(orphans, Orphan{
			ItemID: itemID,
			Path:   info.Path,
			Branch: info.Branch,
			Action: action,
		})
	}

	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ItemID < orphans[j].ItemID })
	return orphans, nil
}

// Adopt records metadata for a worktree found on disk without one.
func (m *Manager) Adopt(itemID, path, branch string) error {
	doc, _ := m.store.Load()
	if branch == "" {
		branch = m.Branch(itemID)
	}
	doc.Worktrees[itemID] = &Meta{
		ItemID:    itemID,
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now().UTC(),
	}
	return m.store.Save(doc)
}

// Forget drops an item's metadata without touching the filesystem.
func (m *Manager) Forget(itemID string) error {
	doc, _ := m.store.Load()
	if _, ok := doc.Worktrees[itemID]; !ok {
		return nil
	}
	delete(doc.Worktrees, itemID)
	return m.store.Save(doc)
}

// itemIDFromPath recovers the item id from a worktree path; the layout is
// always worktrees/<item-id>.
func itemIDFromPath(path string) string {
	parts := strings.Split(strings.TrimRight(path, string(os.PathSeparator)), string(os.PathSeparator))
	return parts[len(parts)-1]
}

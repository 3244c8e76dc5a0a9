package index

import (
	"fmt"
	"sync"

	"harshagw/segidx/internal/store"
)

// DeletionPolicy decides which commits are removed. Both callbacks get the
// commits oldest first and may call Delete on any of them.
type DeletionPolicy interface {
	OnInit(commits []IndexCommit) error
	OnCommit(commits []IndexCommit) error
}

// KeepOnlyLastCommit deletes every commit but the newest.
type KeepOnlyLastCommit struct{}

func (KeepOnlyLastCommit) OnInit(commits []IndexCommit) error {
	return KeepOnlyLastCommit{}.OnCommit(commits)
}

func (KeepOnlyLastCommit) OnCommit(commits []IndexCommit) error {
	for i := 0; i < len(commits)-1; i++ {
		commits[i].Delete()
	}
	return nil
}

// KeepAllCommits never deletes.
type KeepAllCommits struct{}

func (KeepAllCommits) OnInit([]IndexCommit) error   { return nil }
func (KeepAllCommits) OnCommit([]IndexCommit) error { return nil }

// SnapshotDeletionPolicy wraps another policy and protects snapshotted
// commits from deletion until they are released.
type SnapshotDeletionPolicy struct {
	primary DeletionPolicy

	mu         sync.Mutex
	refs       map[int64]int
	commits    map[int64]IndexCommit
	lastCommit IndexCommit
	persist    func(map[int64]int) error
}

func NewSnapshotDeletionPolicy(primary DeletionPolicy) *SnapshotDeletionPolicy {
	if primary == nil {
		primary = KeepOnlyLastCommit{}
	}
	return &SnapshotDeletionPolicy{
		primary: primary,
		refs:    make(map[int64]int),
		commits: make(map[int64]IndexCommit),
	}
}

type snapshotCommit struct {
	IndexCommit
	policy *SnapshotDeletionPolicy
}

func (c *snapshotCommit) Delete() {
	c.policy.mu.Lock()
	pinned := c.policy.refs[c.Generation()] > 0
	c.policy.mu.Unlock()
	if !pinned {
		c.IndexCommit.Delete()
	}
}

func (p *SnapshotDeletionPolicy) wrap(commits []IndexCommit) []IndexCommit {
	wrapped := make([]IndexCommit, len(commits))
	for i, c := range commits {
		wrapped[i] = &snapshotCommit{IndexCommit: c, policy: p}
	}
	p.mu.Lock()
	if len(commits) > 0 {
		p.lastCommit = commits[len(commits)-1]
	}
	for _, c := range commits {
		if p.refs[c.Generation()] > 0 {
			p.commits[c.Generation()] = c
		}
	}
	p.mu.Unlock()
	return wrapped
}

func (p *SnapshotDeletionPolicy) OnInit(commits []IndexCommit) error {
	return p.primary.OnInit(p.wrap(commits))
}

func (p *SnapshotDeletionPolicy) OnCommit(commits []IndexCommit) error {
	return p.primary.OnCommit(p.wrap(commits))
}

// Snapshot pins the newest commit. It fails before the first commit.
func (p *SnapshotDeletionPolicy) Snapshot() (IndexCommit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastCommit == nil {
		return nil, fmt.Errorf("no commit to snapshot: %w", ErrIndexNotFound)
	}
	gen := p.lastCommit.Generation()
	p.refs[gen]++
	p.commits[gen] = p.lastCommit
	if err := p.save(); err != nil {
		p.decRef(gen)
		return nil, err
	}
	return p.lastCommit, nil
}

// Release unpins a snapshot. The commit is removed on the writer's next
// DeleteUnusedFiles or commit.
func (p *SnapshotDeletionPolicy) Release(c IndexCommit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	gen := c.Generation()
	if p.refs[gen] == 0 {
		return fmt.Errorf("commit generation %d is not snapshotted", gen)
	}
	p.decRef(gen)
	return p.save()
}

func (p *SnapshotDeletionPolicy) decRef(gen int64) {
	if p.refs[gen]--; p.refs[gen] <= 0 {
		delete(p.refs, gen)
		delete(p.commits, gen)
	}
}

func (p *SnapshotDeletionPolicy) save() error {
	if p.persist == nil {
		return nil
	}
	refs := make(map[int64]int, len(p.refs))
	for gen, n := range p.refs {
		refs[gen] = n
	}
	return p.persist(refs)
}

// Snapshots returns the pinned commits.
func (p *SnapshotDeletionPolicy) Snapshots() []IndexCommit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]IndexCommit, 0, len(p.commits))
	for _, c := range p.commits {
		out = append(out, c)
	}
	return out
}

// SnapshotCount is the total number of outstanding pins.
func (p *SnapshotDeletionPolicy) SnapshotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.refs {
		n += c
	}
	return n
}

// PersistentSnapshotDeletionPolicy keeps its pins in a snapshot store so
// they survive restarts.
type PersistentSnapshotDeletionPolicy struct {
	*SnapshotDeletionPolicy
	store *store.SnapshotStore
}

// NewPersistentSnapshotDeletionPolicy loads the pins saved in st.
func NewPersistentSnapshotDeletionPolicy(primary DeletionPolicy, st *store.SnapshotStore) (*PersistentSnapshotDeletionPolicy, error) {
	p := &PersistentSnapshotDeletionPolicy{SnapshotDeletionPolicy: NewSnapshotDeletionPolicy(primary), store: st}
	refs, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	for gen, n := range refs {
		p.refs[gen] = n
	}
	p.persist = st.Save
	return p, nil
}

// OnInit drops pins of commits that no longer exist.
func (p *PersistentSnapshotDeletionPolicy) OnInit(commits []IndexCommit) error {
	present := make(map[int64]bool, len(commits))
	for _, c := range commits {
		present[c.Generation()] = true
	}
	p.mu.Lock()
	changed := false
	for gen := range p.refs {
		if !present[gen] {
			delete(p.refs, gen)
			changed = true
		}
	}
	var err error
	if changed {
		err = p.save()
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.SnapshotDeletionPolicy.OnInit(commits)
}

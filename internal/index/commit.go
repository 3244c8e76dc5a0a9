package index

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"harshagw/segidx/internal/store"
)

// IndexCommit is a read-only handle on one commit point.
type IndexCommit interface {
	SegmentsFileName() string
	Generation() int64
	FileNames() []string
	UserData() map[string]string
	SegmentCount() int
	Directory() store.Directory
	// Delete marks the commit for removal. Only meaningful inside
	// DeletionPolicy callbacks.
	Delete()
	IsDeleted() bool
}

type commitPoint struct {
	dir     store.Directory
	infos   *SegmentInfos
	files   []string
	deleted bool
	// onDelete is set by the file deleter while policy callbacks run.
	onDelete func(*commitPoint)
}

func newCommitPoint(dir store.Directory, infos *SegmentInfos) *commitPoint {
	return &commitPoint{dir: dir, infos: infos, files: infos.Files(true)}
}

func (c *commitPoint) SegmentsFileName() string    { return c.infos.SegmentsFileName() }
func (c *commitPoint) Generation() int64           { return c.infos.Generation }
func (c *commitPoint) FileNames() []string         { return slices.Clone(c.files) }
func (c *commitPoint) UserData() map[string]string { return maps.Clone(c.infos.UserData) }
func (c *commitPoint) SegmentCount() int           { return c.infos.Size() }
func (c *commitPoint) Directory() store.Directory  { return c.dir }
func (c *commitPoint) IsDeleted() bool             { return c.deleted }

func (c *commitPoint) Delete() {
	if c.deleted {
		return
	}
	c.deleted = true
	if c.onDelete != nil {
		c.onDelete(c)
	}
}

func (c *commitPoint) String() string {
	return fmt.Sprintf("commit(%s, %d segments)", c.SegmentsFileName(), c.SegmentCount())
}

// ListCommits returns every readable commit of dir, oldest first.
func ListCommits(dir store.Directory) ([]IndexCommit, error) {
	files, err := dir.ListAll()
	if err != nil {
		return nil, err
	}
	var commits []IndexCommit
	for _, name := range files {
		if GenerationFromSegmentsFileName(name) < 0 {
			continue
		}
		infos, err := ReadSegmentInfos(dir, name)
		if errors.Is(err, store.ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		commits = append(commits, newCommitPoint(dir, infos))
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w in %v", ErrIndexNotFound, files)
	}
	slices.SortFunc(commits, func(a, b IndexCommit) int {
		return int(a.Generation() - b.Generation())
	})
	return commits, nil
}

// commitInfos returns the segment infos behind a commit handle.
func commitInfos(c IndexCommit) (*SegmentInfos, error) {
	switch cp := c.(type) {
	case *commitPoint:
		return cp.infos.Clone(), nil
	case *snapshotCommit:
		return commitInfos(cp.IndexCommit)
	}
	return ReadSegmentInfos(c.Directory(), c.SegmentsFileName())
}

package importer

import (
	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/outline"
)

// Cursor holds the id of the open node at each outline depth; index 0 is
// depth 1 (board). Opening a depth does not close deeper ones: rows are
// assumed to arrive well formed.
type Cursor struct {
	ids []string
}

// cursorFrom rebuilds the cursor persisted in a checkpoint.
func cursorFrom(cp *checkpoint.Checkpoint) *Cursor {
	c := &Cursor{}
	c.Open(1, cp.BoardID)
	c.Open(2, cp.GroupID)
	c.Open(outline.ItemDepth, cp.ItemID)
	return c
}

// Open records id as the open node at depth.
func (c *Cursor) Open(depth int, id string) {
	if depth < 1 {
		return
	}
	for len(c.ids) < depth {
		c.ids = append(c.ids, "")
	}
	c.ids[depth-1] = id
}

// At returns the open node at depth, or "".
func (c *Cursor) At(depth int) string {
	if depth < 1 || depth > len(c.ids) {
		return ""
	}
	return c.ids[depth-1]
}

// Reset closes every depth below the board.
func (c *Cursor) Reset(boardID string) {
	c.ids = c.ids[:0]
	c.Open(1, boardID)
}

// Path returns a copy of the open ids from the board down.
func (c *Cursor) Path() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// store mirrors the top three depths into cp.
func (c *Cursor) store(cp *checkpoint.Checkpoint) {
	cp.BoardID = c.At(1)
	cp.GroupID = c.At(2)
	cp.ItemID = c.At(outline.ItemDepth)
}

package bplus

// Cursor walks live entries in (key, target) order, forwards or backwards.
// It remembers the entry it stands on and finds its place again when the
// index changed between steps.
type Cursor struct {
	tree      *BPlusTree
	pos       Position
	direction int
	key       []byte
	target    Ref
	end       []byte
	hasEnd    bool
	version   uint64
	err       error
}

// Seek positions a cursor on the first live entry at or beyond
// (key, target) in direction.
func (t *BPlusTree) Seek(key []byte, target Ref, direction int) (*Cursor, error) {
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	defer t.cache.Release()

	c := &Cursor{tree: t, direction: direction, version: t.version}
	pos, _, err := t.locate(t.head, key, target, direction)
	if err != nil {
		return nil, err
	}
	if err := c.settle(pos); err != nil {
		return nil, err
	}
	return c, nil
}

// SeekFirst positions a cursor on the smallest live entry, or on the
// largest one when direction is -1.
func (t *BPlusTree) SeekFirst(direction int) (*Cursor, error) {
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	defer t.cache.Release()

	c := &Cursor{tree: t, direction: direction, version: t.version}
	pos, err := t.edge(direction)
	if err != nil {
		return nil, err
	}
	if err := c.settle(pos); err != nil {
		return nil, err
	}
	return c, nil
}

// edge returns the first slot of the index in direction, live or not.
func (t *BPlusTree) edge(direction int) (Position, error) {
	if direction < 0 {
		return t.findLargestKey(t.head)
	}
	loc := t.head
	for {
		b, err := t.bucket(loc)
		if err != nil {
			return EndPosition, err
		}
		c := b.childForPos(0)
		if c.IsNull() {
			if b.n() == 0 {
				return EndPosition, nil
			}
			return Position{Bucket: loc, Slot: 0}, nil
		}
		loc = c
	}
}

// settle moves to the first live entry from pos and loads it.
func (c *Cursor) settle(pos Position) error {
	t := c.tree
	pos, err := t.skipUnused(pos, c.direction)
	if err != nil {
		return err
	}
	c.pos = pos
	if pos.IsEnd() {
		c.key = nil
		return nil
	}
	b, err := t.bucket(pos.Bucket)
	if err != nil {
		return err
	}
	c.key = append(c.key[:0], b.keyAt(pos.Slot)...)
	c.target = b.target(pos.Slot)
	c.checkEnd()
	return nil
}

// SetEnd bounds the scan: entries beyond key in the scan direction are not
// visited. key itself is included.
func (c *Cursor) SetEnd(key []byte) {
	c.end = append([]byte(nil), key...)
	c.hasEnd = true
	c.checkEnd()
}

func (c *Cursor) checkEnd() {
	if !c.hasEnd || c.pos.IsEnd() {
		return
	}
	if c.tree.cmp(c.key, c.end)*c.direction > 0 {
		c.pos = EndPosition
		c.key = nil
	}
}

func (c *Cursor) Valid() bool {
	return c.err == nil && !c.pos.IsEnd()
}

// Next moves to the following live entry. Returns false when exhausted or
// on error; see Err.
func (c *Cursor) Next() bool {
	if !c.Valid() {
		return false
	}
	t := c.tree
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c.err = t.checkOpen(); c.err != nil {
		return false
	}
	defer t.cache.Release()

	pos := c.pos
	if c.version != t.version {
		c.version = t.version
		p, found, err := t.locate(t.head, c.key, c.target, c.direction)
		if err != nil {
			c.err = err
			return false
		}
		if !found {
			// our entry is gone, p already lies beyond it
			if c.err = c.settle(p); c.err != nil {
				return false
			}
			return c.Valid()
		}
		pos = p
	}

	next, err := t.advance(pos, c.direction)
	if err != nil {
		c.err = err
		return false
	}
	if c.err = c.settle(next); c.err != nil {
		return false
	}
	return c.Valid()
}

// Key returns the current key. The slice is reused by Next.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return c.key
}

// Target returns the record location of the current entry.
func (c *Cursor) Target() Ref {
	if !c.Valid() {
		return NullRef
	}
	return c.target
}

func (c *Cursor) Position() Position { return c.pos }

func (c *Cursor) Err() error { return c.err }

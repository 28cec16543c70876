package ember

import "ember/pkg/ember/btree"

// Cursor navigates one Bucket's keys in order (spec §4.5, §6). It
// becomes unusable once its owning Bucket or Txn closes.
type Cursor struct {
	bucket *Bucket
	inner  *btree.Cursor
}

// Seek positions the cursor at the first key >= key.
func (c *Cursor) Seek(key []byte) error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.Seek(key)
}

// Find positions the cursor on key exactly; the cursor is left invalid,
// not errored, when key is absent.
func (c *Cursor) Find(key []byte) error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.Find(key)
}

// SeekFirst positions the cursor at the smallest key in the bucket.
func (c *Cursor) SeekFirst() error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.SeekFirst()
}

// SeekLast positions the cursor at the largest key in the bucket.
func (c *Cursor) SeekLast() error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.SeekLast()
}

// Next advances to the next key in order.
func (c *Cursor) Next() error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.Next()
}

// Previous moves to the previous key in order.
func (c *Cursor) Previous() error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.Previous()
}

// IsValid reports whether the cursor is currently positioned on a key.
func (c *Cursor) IsValid() bool {
	if c.bucket.live() != nil {
		return false
	}
	return c.inner.IsValid()
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() ([]byte, error) {
	if err := c.bucket.live(); err != nil {
		return nil, err
	}
	return c.inner.Key()
}

// Value returns the value at the cursor's current position.
func (c *Cursor) Value() ([]byte, error) {
	if err := c.bucket.live(); err != nil {
		return nil, err
	}
	return c.inner.Value()
}

// Status returns the last error this cursor encountered, if any.
func (c *Cursor) Status() error {
	if err := c.bucket.live(); err != nil {
		return err
	}
	return c.inner.Status()
}

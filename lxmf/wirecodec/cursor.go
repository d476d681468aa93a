package wirecodec

import "fmt"

// cursor is a minimal forward-only reader over a fixed-prefix wire layout,
// generalized from consensus/wire.go's cursor: the fixed-width prefixes of a
// packed message (destination hash, source hash, signature) are read this
// way before the remaining bytes are handed to msgpack.
type cursor struct {
	b   []byte
	pos int
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b, pos: 0}
}

func (c *cursor) remaining() int {
	if c.pos >= len(c.b) {
		return 0
	}
	return len(c.b) - c.pos
}

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("wirecodec: truncated")
	}
	start := c.pos
	c.pos += n
	return c.b[start:c.pos], nil
}

func (c *cursor) rest() []byte {
	return c.b[c.pos:]
}

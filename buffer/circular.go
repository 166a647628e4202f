package buffer

// CircularVec is a circular buffer of fixed-width float64 vectors. It backs
// the chain history that differential-evolution proposals draw from and the
// summary diagnostics, with the ability to iterate over the first and second
// halves of the retained history in append order.
type CircularVec struct {
	buffer    [][]float64 // actual storage
	pos       int         // Current position in buffer
	Width     int         // Width is the fixed vector length
	BufSize   int         // BufSize is the fixed number of vectors maintained in memory
	Count     int         // Count is the number of vectors in memory. Will always be <= BufSize
	TotalSeen int64       // TotalSeen is the total number of times Add has been called
}

// NewCircularVec creates a new circular buffer of totalSize vectors of the
// given width. If totalSize is not a multiple of 2, it will be adjusted.
func NewCircularVec(totalSize int, width int) *CircularVec {
	// Fix odd number situations
	half := totalSize / 2
	total := half + half

	buf := make([][]float64, total)
	for i := range buf {
		buf[i] = make([]float64, width)
	}

	return &CircularVec{
		buffer:  buf,
		pos:     0,
		Width:   width,
		BufSize: total,
		Count:   0,
	}
}

// Internal: return the next array position
func (c *CircularVec) nextPos() int {
	return (c.pos + 1) % c.BufSize
}

// Add copies the given vector into the buffer, overwriting the oldest entry
func (c *CircularVec) Add(x []float64) error {
	c.TotalSeen++

	copy(c.buffer[c.pos], x)

	c.pos = c.nextPos()

	c.Count++
	if c.Count > c.BufSize {
		c.Count = c.BufSize // max out
	}

	return nil
}

// At returns the i-th oldest retained vector (0 <= i < Count). The returned
// slice is the internal storage: callers must not modify it.
func (c *CircularVec) At(i int) []float64 {
	var oldest int
	if c.Count < c.BufSize {
		oldest = 0
	} else {
		oldest = c.pos
	}
	return c.buffer[(oldest+i)%c.BufSize]
}

// FirstHalf returns an iterator over the first (oldest) half of the stored
// vectors. Will not return a valid iterator until Add has been called at
// least BufSize times
func (c *CircularVec) FirstHalf() *CircularVecIterator {
	if c.Count < c.BufSize {
		return nil
	}

	return &CircularVecIterator{
		buf:    c,
		curr:   c.pos, // Oldest is the one we're about to write
		remain: c.BufSize / 2,
	}
}

// SecondHalf returns an iterator over the second (most recent) half of the
// stored vectors. Will not return a valid iterator until Add has been called
// at least BufSize times
func (c *CircularVec) SecondHalf() *CircularVecIterator {
	if c.Count < c.BufSize {
		return nil
	}

	half := c.BufSize / 2
	pos := (c.pos + half) % c.BufSize

	return &CircularVecIterator{
		buf:    c,
		curr:   pos,
		remain: half,
	}
}

// CircularVecIterator provides an iterator over a CircularVec buffer
type CircularVecIterator struct {
	buf    *CircularVec
	curr   int
	remain int
}

// Next returns True when there are more vectors to read via Value
func (i *CircularVecIterator) Next() bool {
	return i.remain > 0
}

// Value returns the next vector to be read. Should only be called if Next()
// is True
func (i *CircularVecIterator) Value() []float64 {
	v := i.buf.buffer[i.curr]
	i.curr = (i.curr + 1) % i.buf.BufSize
	i.remain--
	return v
}

package buffer

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RowBuffer accumulates chain rows in memory and periodically appends them
// to a durable text file, one row per iteration. The file is the resume
// point for an interrupted run: the number of complete rows on disk is the
// number of finished iterations. Flushes retry a bounded number of times and
// then fail the run, since resumability cannot be guaranteed past a lost
// write.
type RowBuffer struct {
	Path       string
	Width      int
	MaxRetries int

	pending [][]float64
	written int64
}

// NewRowBuffer creates a buffer appending rows of the given width to path.
func NewRowBuffer(path string, width int, maxRetries int) (*RowBuffer, error) {
	if width < 1 {
		return nil, errors.Errorf("Invalid row width %d", width)
	}
	if maxRetries < 1 {
		maxRetries = 3
	}

	return &RowBuffer{
		Path:       path,
		Width:      width,
		MaxRetries: maxRetries,
	}, nil
}

// CountRows scans the existing file and returns the number of complete rows
// already on disk, priming the written counter. A missing file counts as
// zero rows.
func (b *RowBuffer) CountRows() (int64, error) {
	f, err := os.Open(b.Path)
	if os.IsNotExist(err) {
		b.written = 0
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "Could not open chain file %s", b.Path)
	}
	defer f.Close()

	var count int64
	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scan.Scan() {
		if len(strings.TrimSpace(scan.Text())) > 0 {
			count++
		}
	}
	if err := scan.Err(); err != nil {
		return 0, errors.Wrapf(err, "Could not scan chain file %s", b.Path)
	}

	b.written = count
	return count, nil
}

// LastRow returns the final complete row on disk, or nil if the file is
// empty or absent. Used to restore chain state on resume.
func (b *RowBuffer) LastRow() ([]float64, error) {
	f, err := os.Open(b.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Could not open chain file %s", b.Path)
	}
	defer f.Close()

	var last string
	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scan.Scan() {
		if len(strings.TrimSpace(scan.Text())) > 0 {
			last = scan.Text()
		}
	}
	if err := scan.Err(); err != nil {
		return nil, errors.Wrapf(err, "Could not scan chain file %s", b.Path)
	}
	if len(last) < 1 {
		return nil, nil
	}

	fields := strings.Fields(last)
	if len(fields) != b.Width {
		return nil, errors.Errorf("Chain file %s last row has %d columns, expected %d", b.Path, len(fields), b.Width)
	}

	row := make([]float64, len(fields))
	for i, fs := range fields {
		v, err := strconv.ParseFloat(fs, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "Chain file %s has a bad value in its last row", b.Path)
		}
		row[i] = v
	}

	return row, nil
}

// Append copies a row into the pending buffer. The write to disk happens on
// the next Flush.
func (b *RowBuffer) Append(row []float64) error {
	if len(row) != b.Width {
		return errors.Errorf("Row has %d columns, expected %d", len(row), b.Width)
	}

	cp := make([]float64, len(row))
	copy(cp, row)
	b.pending = append(b.pending, cp)
	return nil
}

// Pending is the count of rows not yet flushed.
func (b *RowBuffer) Pending() int {
	return len(b.pending)
}

// RowsWritten is the count of rows known to be on disk.
func (b *RowBuffer) RowsWritten() int64 {
	return b.written
}

// Flush appends all pending rows to the file, retrying up to MaxRetries
// times before giving up. On success the pending buffer is cleared.
func (b *RowBuffer) Flush() error {
	if len(b.pending) < 1 {
		return nil
	}

	var sb strings.Builder
	for _, row := range b.pending {
		for i, v := range row {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%.17g", v)
		}
		sb.WriteByte('\n')
	}

	var lastErr error
	for attempt := 0; attempt < b.MaxRetries; attempt++ {
		lastErr = b.writeChunk(sb.String())
		if lastErr == nil {
			b.written += int64(len(b.pending))
			b.pending = b.pending[:0]
			return nil
		}
	}

	return errors.Wrapf(lastErr, "Chain flush to %s failed after %d attempts", b.Path, b.MaxRetries)
}

func (b *RowBuffer) writeChunk(chunk string) error {
	f, err := os.OpenFile(b.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(chunk); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

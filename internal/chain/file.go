package chain

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

const maxLineLength = 1 << 20

// Reader streams chains from a line-oriented file. Blank lines and lines
// starting with '#' are skipped.
type Reader struct {
	sc     *bufio.Scanner
	syntax Syntax
	line   int
	cur    Chain
	err    error
}

// NewReader returns a Reader parsing descriptors with syntax.
func NewReader(r io.Reader, syntax Syntax) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return &Reader{sc: sc, syntax: syntax}
}

// Next advances to the next chain. It returns false at end of input or on error.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		c, err := r.syntax.Parse(text)
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", r.line, err)
			return false
		}
		r.cur = c
		return true
	}
	if err := r.sc.Err(); err != nil {
		r.err = fmt.Errorf("read chains: %w: %w", err, perrors.ErrIO)
	}
	return false
}

// Chain returns the chain read by the last call to Next.
func (r *Reader) Chain() Chain {
	return r.cur
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// ReadAll parses every chain of r.
func ReadAll(r io.Reader, syntax Syntax) ([]Chain, error) {
	var out []Chain
	cr := NewReader(r, syntax)
	for cr.Next() {
		out = append(out, cr.Chain())
	}
	return out, cr.Err()
}

// ReadFile parses every chain of the file at path.
func ReadFile(fs afero.Fs, path string, syntax Syntax) ([]Chain, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, err, perrors.ErrIO)
	}
	defer func() { _ = f.Close() }()
	return ReadAll(f, syntax)
}

// Writer writes one descriptor per line.
type Writer struct {
	w      *bufio.Writer
	syntax Syntax
	n      int
}

// NewWriter returns a Writer formatting descriptors with syntax.
func NewWriter(w io.Writer, syntax Syntax) *Writer {
	return &Writer{w: bufio.NewWriter(w), syntax: syntax}
}

// Comment writes a '#' line, ignored by readers.
func (w *Writer) Comment(format string, args ...any) error {
	_, err := fmt.Fprintf(w.w, "# "+format+"\n", args...)
	return err
}

// Write appends one chain.
func (w *Writer) Write(c Chain) error {
	if _, err := w.w.WriteString(w.syntax.Format(c)); err != nil {
		return err
	}
	w.n++
	return w.w.WriteByte('\n')
}

// Count returns the number of chains written.
func (w *Writer) Count() int {
	return w.n
}

// Flush flushes buffered output.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// WriteFile atomically replaces path with chains, preceded by optional comment
// lines.
func WriteFile(fs afero.Fs, path string, syntax Syntax, chains []Chain, comments ...string) error {
	err := safe.WriteFileAtomic(fs, path, 0o644, func(out io.Writer) error {
		w := NewWriter(out, syntax)
		for _, c := range comments {
			if err := w.Comment("%s", c); err != nil {
				return err
			}
		}
		for _, c := range chains {
			if err := w.Write(c); err != nil {
				return err
			}
		}
		return w.Flush()
	})
	if err != nil {
		return fmt.Errorf("write %s: %w: %w", path, err, perrors.ErrIO)
	}
	return nil
}

// Package compare intersects chain sets produced by independent scans.
//
// Two chains are the same when their canonical descriptors match. Sets are
// compared through a hashed set of 128-bit xxh3 digests, so memory grows with
// the size of the second set only and the first set can be streamed.
package compare

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/ptrscan/internal/chain"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// ctxCheckInterval is how many streamed chains pass between context checks.
const ctxCheckInterval = 1 << 14

type set map[xxh3.Uint128]struct{}

func key(c chain.Chain) xxh3.Uint128 {
	return xxh3.HashString128(c.String())
}

func newSet(chains []chain.Chain) set {
	s := make(set, len(chains))
	for _, c := range chains {
		s[key(c)] = struct{}{}
	}
	return s
}

// Intersect returns the chains of a that also appear in b, in a's order.
// Duplicates within a are kept as they appear.
func Intersect(a, b []chain.Chain) []chain.Chain {
	in := newSet(b)
	out := make([]chain.Chain, 0, min(len(a), len(b)))
	for _, c := range a {
		if _, ok := in[key(c)]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Result counts the chains read from the first file and written out.
type Result struct {
	Read int
	Kept int
}

// IntersectFiles hashes every chain of pathB, then streams pathA and atomically
// writes the chains also present in pathB to out.
func IntersectFiles(ctx context.Context, fs afero.Fs, pathA, pathB, out string, syntax chain.Syntax, logger zerolog.Logger) (Result, error) {
	in, err := hashFile(ctx, fs, pathB, syntax)
	if err != nil {
		return Result{}, err
	}

	src, err := fs.Open(pathA)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w: %w", pathA, err, perrors.ErrIO)
	}
	defer perrors.DeferClose(logger, src, "failed to close chain file")

	var res Result
	err = safe.WriteFileAtomic(fs, out, 0o644, func(dst io.Writer) error {
		r := chain.NewReader(src, syntax)
		w := chain.NewWriter(dst, syntax)
		for r.Next() {
			res.Read++
			if res.Read%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			c := r.Chain()
			if _, ok := in[key(c)]; !ok {
				continue
			}
			if err := w.Write(c); err != nil {
				return err
			}
			res.Kept++
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("%s: %w", pathA, err)
		}
		return w.Flush()
	})
	if err != nil {
		return Result{}, fmt.Errorf("intersect %s and %s: %w", pathA, pathB, err)
	}

	logger.Info().
		Str("a", pathA).
		Str("b", pathB).
		Int("read", res.Read).
		Int("kept", res.Kept).
		Msg("Intersected chain files")
	return res, nil
}

func hashFile(ctx context.Context, fs afero.Fs, path string, syntax chain.Syntax) (set, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, err, perrors.ErrIO)
	}
	defer func() { _ = f.Close() }()

	s := make(set)
	r := chain.NewReader(f, syntax)
	for n := 1; r.Next(); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s[key(r.Chain())] = struct{}{}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

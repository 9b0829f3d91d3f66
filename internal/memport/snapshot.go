package memport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

const snapshotVersion = 1

// SnapshotMeta describes where a snapshot came from.
type SnapshotMeta struct {
	Pid          int       `yaml:"pid,omitempty"`
	PointerWidth int       `yaml:"pointer_width,omitempty"`
	ByteOrder    string    `yaml:"byte_order,omitempty"`
	CapturedAt   time.Time `yaml:"captured_at,omitempty"`
}

type snapRegion struct {
	Region
	data []byte
}

// Snapshot is an in-memory copy of an address space. It implements Port.
type Snapshot struct {
	Meta    SnapshotMeta
	modules []Module
	regions []snapRegion
}

var _ Port = (*Snapshot)(nil)

// NewSnapshot returns an empty snapshot exposing the given modules.
func NewSnapshot(modules []Module) *Snapshot {
	return &Snapshot{modules: append([]Module(nil), modules...)}
}

// AddModule registers a module.
func (s *Snapshot) AddModule(m Module) {
	s.modules = append(s.modules, m)
}

// AddRegion records a region and its contents. data must cover the region exactly
// and must not overlap a region already present.
func (s *Snapshot) AddRegion(r Region, data []byte) error {
	if r.Empty() || uint64(len(data)) != r.Len() {
		return fmt.Errorf("region %s has %d bytes of data: %w", r.Range(), len(data), perrors.ErrInvalidParameter)
	}
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].Start >= r.Start })
	if i > 0 && s.regions[i-1].End > r.Start {
		return fmt.Errorf("region %s overlaps %s: %w", r.Range(), s.regions[i-1].Range(), perrors.ErrInvalidParameter)
	}
	if i < len(s.regions) && s.regions[i].Start < r.End {
		return fmt.Errorf("region %s overlaps %s: %w", r.Range(), s.regions[i].Range(), perrors.ErrInvalidParameter)
	}
	s.regions = append(s.regions, snapRegion{})
	copy(s.regions[i+1:], s.regions[i:])
	s.regions[i] = snapRegion{Region: r, data: data}
	return nil
}

// Modules implements Port.
func (s *Snapshot) Modules(ctx context.Context) ([]Module, error) {
	return append([]Module(nil), s.modules...), ctx.Err()
}

// Regions implements Port.
func (s *Snapshot) Regions(ctx context.Context) ([]Region, error) {
	out := make([]Region, len(s.regions))
	for i, r := range s.regions {
		out[i] = r.Region
	}
	return out, ctx.Err()
}

// Read implements Port. Reads spanning two regions fail.
func (s *Snapshot) Read(addr uint64, size int) ([]byte, error) {
	r, off, err := s.locate(addr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, r.data[off:off+uint64(size)])
	return out, nil
}

// Write overwrites bytes inside an existing region.
func (s *Snapshot) Write(addr uint64, b []byte) error {
	r, off, err := s.locate(addr, len(b))
	if err != nil {
		return err
	}
	copy(r.data[off:], b)
	return nil
}

func (s *Snapshot) locate(addr uint64, size int) (*snapRegion, uint64, error) {
	if size < 0 {
		return nil, 0, fmt.Errorf("read 0x%x: negative size: %w", addr, perrors.ErrRead)
	}
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].End > addr })
	if i >= len(s.regions) || s.regions[i].Start > addr {
		return nil, 0, fmt.Errorf("read 0x%x: address not mapped: %w", addr, perrors.ErrRead)
	}
	r := &s.regions[i]
	off := addr - r.Start
	if end := addr + uint64(size); end < addr || end > r.End {
		return nil, 0, fmt.Errorf("read 0x%x+%d: crosses region end 0x%x: %w", addr, size, r.End, perrors.ErrRead)
	}
	return r, off, nil
}

// CaptureOptions configures Capture.
type CaptureOptions struct {
	// Filter selects the regions to copy. Nil keeps every readable region.
	Filter RegionFilter
	Logger zerolog.Logger
}

// Capture copies the modules and selected regions of a live port. Regions the
// port cannot read are skipped.
func Capture(ctx context.Context, port Port, opts CaptureOptions) (*Snapshot, error) {
	if opts.Filter == nil {
		opts.Filter = AllReadable
	}
	modules, err := port.Modules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	regions, err := port.Regions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}

	snap := NewSnapshot(modules)
	for _, r := range FilterRegions(regions, opts.Filter) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size, clamped := safe.Uint64ToInt(r.Len())
		if clamped {
			opts.Logger.Warn().Str("region", r.Range().String()).Msg("Region too large, skipping")
			continue
		}
		data, err := port.Read(r.Start, size)
		if err != nil {
			if errors.Is(err, perrors.ErrRead) {
				opts.Logger.Debug().Err(err).Str("region", r.Range().String()).Msg("Skipping unreadable region")
				continue
			}
			return nil, fmt.Errorf("read region %s: %w", r.Range(), err)
		}
		if err := snap.AddRegion(r, data); err != nil {
			return nil, err
		}
	}
	opts.Logger.Info().
		Int("modules", len(snap.modules)).
		Int("regions", len(snap.regions)).
		Msg("Captured snapshot")
	return snap, nil
}

type manifest struct {
	Version int              `yaml:"version"`
	Meta    SnapshotMeta     `yaml:"meta"`
	Modules []Module         `yaml:"modules"`
	Regions []manifestRegion `yaml:"regions"`
}

type manifestRegion struct {
	Region `yaml:",inline"`
	Blob   string `yaml:"blob"`
	XXH3   uint64 `yaml:"xxh3"`
}

// SaveSnapshot writes snap into dir: a YAML manifest plus one raw blob per region.
func SaveSnapshot(fs afero.Fs, dir string, snap *Snapshot) error {
	m := manifest{Version: snapshotVersion, Meta: snap.Meta, Modules: snap.modules}
	for i, r := range snap.regions {
		blob := fmt.Sprintf("region-%04d.bin", i)
		data := r.data
		err := safe.WriteFileAtomic(fs, filepath.Join(dir, blob), 0o600, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
		if err != nil {
			return fmt.Errorf("write region blob: %w: %w", err, perrors.ErrIO)
		}
		m.Regions = append(m.Regions, manifestRegion{Region: r.Region, Blob: blob, XXH3: xxh3.Hash(data)})
	}

	out, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal snapshot manifest: %w", err)
	}
	err = safe.WriteFileAtomic(fs, filepath.Join(dir, constants.SnapshotManifest), 0o600, func(w io.Writer) error {
		_, err := w.Write(out)
		return err
	})
	if err != nil {
		return fmt.Errorf("write snapshot manifest: %w: %w", err, perrors.ErrIO)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(fs afero.Fs, dir string) (*Snapshot, error) {
	raw, err := afero.ReadFile(fs, filepath.Join(dir, constants.SnapshotManifest))
	if err != nil {
		return nil, fmt.Errorf("read snapshot manifest: %w: %w", err, perrors.ErrIO)
	}

	var m manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse snapshot manifest: %w: %w", err, perrors.ErrFormat)
	}
	if m.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d: %w", m.Version, perrors.ErrFormat)
	}

	snap := NewSnapshot(m.Modules)
	snap.Meta = m.Meta
	for _, r := range m.Regions {
		if filepath.Base(r.Blob) != r.Blob {
			return nil, fmt.Errorf("blob name %q: %w", r.Blob, perrors.ErrFormat)
		}
		data, err := afero.ReadFile(fs, filepath.Join(dir, r.Blob))
		if err != nil {
			return nil, fmt.Errorf("read region blob %s: %w: %w", r.Blob, err, perrors.ErrIO)
		}
		if xxh3.Hash(data) != r.XXH3 {
			return nil, fmt.Errorf("region blob %s checksum mismatch: %w", r.Blob, perrors.ErrFormat)
		}
		if err := snap.AddRegion(r.Region, data); err != nil {
			return nil, fmt.Errorf("region blob %s: %w: %w", r.Blob, err, perrors.ErrFormat)
		}
	}
	return snap, nil
}

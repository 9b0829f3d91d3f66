package ptrmap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// File layout, all integers in the map's byte order:
//
//	index:   magic[8] order:u8 width:u8 version:u16 reserved:u32
//	         regions:u64 modules:u64 pointees:u64 edges:u64 payloadXXH3:u64
//	         region*  {start end perms path}
//	         module*  {start end path name}
//	         pointee*:u64 start*:u64 (pointees+1)
//	         indexXXH3:u64 (over every preceding byte)
//	payload: magic[8] order:u8 width:u8 version:u16 reserved:u32 edges:u64
//	         source*:u64
//
// Strings are a u16 length followed by the bytes.
const (
	indexMagic    = "PTRSIDX1"
	payloadMagic  = "PTRSDAT1"
	formatVersion = 1

	orderLittle = 0
	orderBig    = 1

	headerSize = 16
)

// Paths returns the index and payload file names for prefix.
func Paths(prefix string) (index, payload string) {
	return prefix + constants.IndexFileExt, prefix + constants.PayloadFileExt
}

// LoadOptions constrains what Load accepts.
type LoadOptions struct {
	// PointerWidth, when non-zero, must match the stored width.
	PointerWidth int
	// ByteOrder, when non-nil, must match the stored byte order.
	ByteOrder binary.ByteOrder
}

// Store persists maps through an afero filesystem.
type Store struct {
	Fs     afero.Fs
	Logger zerolog.Logger
}

// NewStore returns a Store on the OS filesystem.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{Fs: afero.NewOsFs(), Logger: logger}
}

// Save writes m as an index and a payload file. Each file is replaced
// atomically; the payload is written first so a readable index always refers
// to a complete payload.
func (s *Store) Save(m *Map, indexPath, payloadPath string) error {
	sum := xxh3.New()
	err := safe.WriteFileAtomic(s.Fs, payloadPath, 0o644, func(w io.Writer) error {
		return encodePayload(io.MultiWriter(w, sum), m)
	})
	if err != nil {
		return fmt.Errorf("write payload %s: %w: %w", payloadPath, err, perrors.ErrIO)
	}

	err = safe.WriteFileAtomic(s.Fs, indexPath, 0o644, func(w io.Writer) error {
		return encodeIndex(w, m, sum.Sum64())
	})
	if err != nil {
		return fmt.Errorf("write index %s: %w: %w", indexPath, err, perrors.ErrIO)
	}

	s.Logger.Info().
		Str("index", indexPath).
		Str("payload", payloadPath).
		Int("edges", m.Edges()).
		Msg("Pointer map saved")
	return nil
}

// Load reads a map written by Save.
func (s *Store) Load(indexPath, payloadPath string, opts LoadOptions) (*Map, error) {
	index, err := afero.ReadFile(s.Fs, indexPath)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w: %w", indexPath, err, perrors.ErrIO)
	}
	payload, err := afero.ReadFile(s.Fs, payloadPath)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w: %w", payloadPath, err, perrors.ErrIO)
	}
	m, err := LoadBytes(index, payload, opts)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug().Str("index", indexPath).Int("edges", m.Edges()).Msg("Pointer map loaded")
	return m, nil
}

// LoadBytes decodes a map from in-memory index and payload images.
func LoadBytes(index, payload []byte, opts LoadOptions) (*Map, error) {
	codec, err := readHeader(index, indexMagic, opts)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if _, err := readHeader(payload, payloadMagic, LoadOptions{PointerWidth: codec.Width(), ByteOrder: codec.Order()}); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	order := codec.Order()

	if len(index) < headerSize+8 {
		return nil, formatErr("index truncated")
	}
	body := index[:len(index)-8]
	if xxh3.Hash(body) != order.Uint64(index[len(index)-8:]) {
		return nil, formatErr("index checksum mismatch")
	}

	d := &decoder{b: body, off: headerSize, order: order}
	nRegions := d.count(16)
	nModules := d.count(16)
	nPointees := d.count(16)
	nEdges := d.u64()
	payloadSum := d.u64()

	m := &Map{codec: codec}
	m.regions = make([]memport.Region, 0, nRegions)
	for range nRegions {
		m.regions = append(m.regions, memport.Region{Start: d.u64(), End: d.u64(), Perms: d.str(), Path: d.str()})
	}
	m.modules = make([]memport.Module, 0, nModules)
	for range nModules {
		m.modules = append(m.modules, memport.Module{Start: d.u64(), End: d.u64(), Path: d.str(), Name: d.str()})
	}
	m.pointees = d.u64s(nPointees)
	m.starts = d.u64s(nPointees + 1)
	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(body) {
		return nil, formatErr("index has %d trailing bytes", len(body)-d.off)
	}
	m.regionSet = memport.NewRegionSet(m.regions)

	if xxh3.Hash(payload) != payloadSum {
		return nil, formatErr("payload checksum mismatch")
	}
	pd := &decoder{b: payload, off: headerSize, order: order}
	if got := pd.u64(); got != nEdges || pd.err != nil {
		return nil, formatErr("payload holds %d edges, index expects %d", got, nEdges)
	}
	if uint64(len(payload)-pd.off) != nEdges*8 {
		return nil, formatErr("payload length %d does not match %d edges", len(payload), nEdges)
	}
	m.sources = pd.u64s(int(nEdges))

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Map) validate() error {
	if m.starts[0] != 0 || m.starts[len(m.starts)-1] != uint64(len(m.sources)) {
		return formatErr("starts do not span the payload")
	}
	for i, p := range m.pointees {
		if i > 0 && p <= m.pointees[i-1] {
			return formatErr("pointee keys not strictly increasing at %d", i)
		}
		if m.starts[i+1] <= m.starts[i] {
			return formatErr("starts not increasing at %d", i)
		}
		if !m.regionSet.Contains(p) {
			return formatErr("pointee 0x%x outside recorded regions", p)
		}
		src := m.sources[m.starts[i]:m.starts[i+1]]
		for j := 1; j < len(src); j++ {
			if src[j] <= src[j-1] {
				return formatErr("sources of 0x%x not sorted", p)
			}
		}
	}
	return nil
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, perrors.ErrFormat)...)
}

func readHeader(b []byte, magic string, opts LoadOptions) (memport.Codec, error) {
	if len(b) < headerSize {
		return memport.Codec{}, formatErr("file truncated")
	}
	if string(b[:8]) != magic {
		return memport.Codec{}, formatErr("bad magic %q", b[:8])
	}
	var order binary.ByteOrder
	switch b[8] {
	case orderLittle:
		order = binary.LittleEndian
	case orderBig:
		order = binary.BigEndian
	default:
		return memport.Codec{}, formatErr("unknown byte order tag %d", b[8])
	}
	codec, err := memport.NewCodec(int(b[9]), order)
	if err != nil {
		return memport.Codec{}, formatErr("pointer width %d", b[9])
	}
	if v := order.Uint16(b[10:]); v != formatVersion {
		return memport.Codec{}, formatErr("unsupported version %d", v)
	}
	if opts.PointerWidth != 0 && opts.PointerWidth != codec.Width() {
		return memport.Codec{}, formatErr("pointer width %d, expected %d", codec.Width(), opts.PointerWidth)
	}
	if opts.ByteOrder != nil && opts.ByteOrder != order {
		return memport.Codec{}, formatErr("byte order %s, expected %s", memport.OrderName(order), memport.OrderName(opts.ByteOrder))
	}
	return codec, nil
}

type encoder struct {
	w     io.Writer
	order binary.ByteOrder
	buf   [8]byte
	err   error
}

func (e *encoder) write(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) header(magic string, codec memport.Codec) {
	var h [headerSize]byte
	copy(h[:], magic)
	if codec.Order() == binary.BigEndian {
		h[8] = orderBig
	}
	h[9] = byte(codec.Width())
	e.order.PutUint16(h[10:], formatVersion)
	e.write(h[:])
}

func (e *encoder) u64(v uint64) {
	e.order.PutUint64(e.buf[:], v)
	e.write(e.buf[:])
}

func (e *encoder) str(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	e.order.PutUint16(e.buf[:2], uint16(len(s)))
	e.write(e.buf[:2])
	e.write([]byte(s))
}

func encodePayload(w io.Writer, m *Map) error {
	e := &encoder{w: w, order: m.codec.Order()}
	e.header(payloadMagic, m.codec)
	e.u64(uint64(len(m.sources)))
	for _, s := range m.sources {
		e.u64(s)
	}
	return e.err
}

func encodeIndex(w io.Writer, m *Map, payloadSum uint64) error {
	sum := xxh3.New()
	e := &encoder{w: io.MultiWriter(w, sum), order: m.codec.Order()}
	e.header(indexMagic, m.codec)
	e.u64(uint64(len(m.regions)))
	e.u64(uint64(len(m.modules)))
	e.u64(uint64(len(m.pointees)))
	e.u64(uint64(len(m.sources)))
	e.u64(payloadSum)
	for _, r := range m.regions {
		e.u64(r.Start)
		e.u64(r.End)
		e.str(r.Perms)
		e.str(r.Path)
	}
	for _, mod := range m.modules {
		e.u64(mod.Start)
		e.u64(mod.End)
		e.str(mod.Path)
		e.str(mod.Name)
	}
	for _, p := range m.pointees {
		e.u64(p)
	}
	for _, s := range m.starts {
		e.u64(s)
	}
	if e.err != nil {
		return e.err
	}
	e.w = w
	e.u64(sum.Sum64())
	return e.err
}

type decoder struct {
	b     []byte
	off   int
	order binary.ByteOrder
	err   error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = formatErr("truncated at offset %d", d.off)
	}
}

func (d *decoder) u64() uint64 {
	if d.err != nil || len(d.b)-d.off < 8 {
		d.fail()
		return 0
	}
	v := d.order.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

// count reads an element count and rejects values that cannot fit in the
// remaining bytes at minSize bytes per element.
func (d *decoder) count(minSize int) int {
	n := d.u64()
	if d.err != nil {
		return 0
	}
	if n > uint64(len(d.b)-d.off)/uint64(minSize)+1 {
		d.err = formatErr("count %d exceeds file size", n)
		return 0
	}
	return int(n)
}

func (d *decoder) u64s(n int) []uint64 {
	if d.err != nil || n < 0 || (len(d.b)-d.off)/8 < n {
		d.fail()
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = d.order.Uint64(d.b[d.off:])
		d.off += 8
	}
	return out
}

func (d *decoder) str() string {
	if d.err != nil || len(d.b)-d.off < 2 {
		d.fail()
		return ""
	}
	n := int(d.order.Uint16(d.b[d.off:]))
	d.off += 2
	if len(d.b)-d.off < n {
		d.fail()
		return ""
	}
	s := string(d.b[d.off : d.off+n])
	d.off += n
	return s
}

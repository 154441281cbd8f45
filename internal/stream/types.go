package stream

import (
	"fmt"
	"strings"
	"time"
)

// ElementType is the sample type of a buffer.
type ElementType uint8

const (
	Int16 ElementType = iota + 1
	Float32
)

// Size returns the element width in bytes.
func (t ElementType) Size() int {
	switch t {
	case Int16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

func (t ElementType) String() string {
	switch t {
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("ElementType(%d)", uint8(t))
	}
}

// ParseElementType maps a configuration string to an ElementType.
func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int16", "s16":
		return Int16, nil
	case "float32", "f32":
		return Float32, nil
	default:
		return 0, fmt.Errorf("%w: element type %q", ErrUnsupportedFormat, s)
	}
}

// Mode describes how 2-D data maps to a 1-D scan.
type Mode uint8

const (
	ModeFull Mode = iota
	ModePerRow
	ModePerColumn
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePerRow:
		return "per-row"
	case ModePerColumn:
		return "per-column"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// MaxRank is the largest number of dimensions a Shape can carry.
const MaxRank = 4

// Shape is an ordered list of up to MaxRank dimensions. Dimension 0 is the
// width, dimension 1 the height.
type Shape struct {
	dims [MaxRank]int
	rank int
}

// NewShape builds a shape from dims. It fails for rank 0, rank above
// MaxRank or any dimension below 1.
func NewShape(dims ...int) (Shape, error) {
	if len(dims) == 0 || len(dims) > MaxRank {
		return Shape{}, fmt.Errorf("%w: rank %d", ErrInvalidShape, len(dims))
	}
	var s Shape
	for i, d := range dims {
		if d < 1 {
			return Shape{}, fmt.Errorf("%w: dimension %d is %d", ErrInvalidShape, i, d)
		}
		s.dims[i] = d
	}
	s.rank = len(dims)
	return s, nil
}

// MustShape is NewShape for constant shapes; it panics on invalid input.
func MustShape(dims ...int) Shape {
	s, err := NewShape(dims...)
	if err != nil {
		panic(err)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return s.rank }

// Dim returns dimension i, or 1 when i is beyond the rank.
func (s Shape) Dim(i int) int {
	if i < 0 || i >= s.rank {
		return 1
	}
	return s.dims[i]
}

// Dims returns a copy of the dimensions.
func (s Shape) Dims() []int {
	out := make([]int, s.rank)
	copy(out, s.dims[:s.rank])
	return out
}

// Width is dimension 0.
func (s Shape) Width() int { return s.Dim(0) }

// Height is dimension 1; rank 1 shapes have height 1.
func (s Shape) Height() int { return s.Dim(1) }

// Elements returns the product of all dimensions.
func (s Shape) Elements() int {
	if s.rank == 0 {
		return 0
	}
	n := 1
	for _, d := range s.dims[:s.rank] {
		n *= d
	}
	return n
}

// IsZero reports whether the shape was never set.
func (s Shape) IsZero() bool { return s.rank == 0 }

func (s Shape) String() string {
	parts := make([]string, s.rank)
	for i := range s.rank {
		parts[i] = fmt.Sprint(s.dims[i])
	}
	return strings.Join(parts, "x")
}

// Buffer is a flat block of samples. Exactly one of I16 or F32 is used,
// selected by Type.
type Buffer struct {
	Type ElementType
	I16  []int16
	F32  []float32
}

// NewBuffer allocates a zeroed buffer of n elements.
func NewBuffer(t ElementType, n int) Buffer {
	switch t {
	case Int16:
		return Buffer{Type: Int16, I16: make([]int16, n)}
	case Float32:
		return Buffer{Type: Float32, F32: make([]float32, n)}
	default:
		return Buffer{Type: t}
	}
}

// Int16Buffer wraps existing int16 samples without copying.
func Int16Buffer(samples []int16) Buffer {
	return Buffer{Type: Int16, I16: samples}
}

// Float32Buffer wraps existing float32 samples without copying.
func Float32Buffer(samples []float32) Buffer {
	return Buffer{Type: Float32, F32: samples}
}

// Len returns the number of elements.
func (b Buffer) Len() int {
	switch b.Type {
	case Int16:
		return len(b.I16)
	case Float32:
		return len(b.F32)
	default:
		return 0
	}
}

// Bytes returns the storage size in bytes.
func (b Buffer) Bytes() int { return b.Len() * b.Type.Size() }

// Slice returns a view of elements [lo, hi) sharing storage with b.
func (b Buffer) Slice(lo, hi int) Buffer {
	switch b.Type {
	case Int16:
		return Buffer{Type: Int16, I16: b.I16[lo:hi:hi]}
	case Float32:
		return Buffer{Type: Float32, F32: b.F32[lo:hi:hi]}
	default:
		return Buffer{Type: b.Type}
	}
}

// Zero clears every element.
func (b Buffer) Zero() {
	clear(b.I16)
	clear(b.F32)
}

// Clone returns a deep copy.
func (b Buffer) Clone() Buffer {
	out := Buffer{Type: b.Type}
	if b.I16 != nil {
		out.I16 = append([]int16(nil), b.I16...)
	}
	if b.F32 != nil {
		out.F32 = append([]float32(nil), b.F32...)
	}
	return out
}

// Float32s returns the samples as float32, converting int16 without scaling.
// For Float32 buffers the backing slice is returned as is.
func (b Buffer) Float32s() []float32 {
	if b.Type == Float32 {
		return b.F32
	}
	out := make([]float32, len(b.I16))
	for i, v := range b.I16 {
		out[i] = float32(v)
	}
	return out
}

// Packet describes samples that exist only for the duration of one event
// dispatch. Receivers that keep the data must Clone it.
type Packet struct {
	Payload   Buffer
	Shape     Shape
	Mode      Mode
	Timestamp time.Time
}

// NewPacket builds a packet whose shape must cover the payload exactly.
func NewPacket(payload Buffer, shape Shape, ts time.Time) (*Packet, error) {
	if shape.Elements() != payload.Len() {
		return nil, fmt.Errorf("%w: shape %s holds %d elements, payload has %d",
			ErrInvalidShape, shape, shape.Elements(), payload.Len())
	}
	return &Packet{Payload: payload, Shape: shape, Timestamp: ts}, nil
}

// Clone returns a packet with its own copy of the payload.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	c := *p
	c.Payload = p.Payload.Clone()
	return &c
}

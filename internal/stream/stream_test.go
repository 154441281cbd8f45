package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/errors"
)

func TestShape(t *testing.T) {
	t.Parallel()

	s := MustShape(3, 4)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 3, s.Width())
	assert.Equal(t, 4, s.Height())
	assert.Equal(t, 12, s.Elements())
	assert.Equal(t, "3x4", s.String())

	flat := MustShape(10)
	assert.Equal(t, 1, flat.Height(), "rank 1 is width x 1")
	assert.Equal(t, 10, flat.Elements())

	for _, dims := range [][]int{nil, {0}, {1, -2}, {1, 1, 1, 1, 1}} {
		_, err := NewShape(dims...)
		require.ErrorIs(t, err, ErrInvalidShape, "%v", dims)
	}
}

func TestCheckFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, out ElementType
		ok      bool
	}{
		{Int16, Int16, true},
		{Int16, Float32, true},
		{Float32, Float32, true},
		{Float32, Int16, false},
		{ElementType(9), Float32, false},
	}
	for _, tt := range tests {
		t.Run(tt.in.String()+"->"+tt.out.String(), func(t *testing.T) {
			t.Parallel()
			err := CheckFormat(tt.in, tt.out)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrUnsupportedFormat)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestCheckRank(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckRank(MustShape(1, 10), MustShape(1, 4)))
	require.ErrorIs(t, CheckRank(MustShape(10), MustShape(1, 4)), ErrNotImplemented)

	for _, tt := range []struct{ in, out Shape }{
		{MustShape(3, 2, 2), MustShape(2, 3, 2)},
		{MustShape(2, 2, 2), MustShape(2, 2, 2)},
		{MustShape(1, 2, 3, 4), MustShape(1, 2, 3, 4)},
	} {
		require.ErrorIs(t, CheckRank(tt.in, tt.out), ErrNotImplemented, "%s to %s", tt.in, tt.out)
	}
}

func TestShouldTranspose(t *testing.T) {
	t.Parallel()

	assert.True(t, ShouldTranspose(MustShape(3, 4), MustShape(4, 3)))
	assert.True(t, ShouldTranspose(MustShape(3, 1), MustShape(4, 3)), "rows of 3 fill columns of height 3")
	assert.False(t, ShouldTranspose(MustShape(4, 4), MustShape(4, 4)), "square never transposes")
	assert.False(t, ShouldTranspose(MustShape(1, 10), MustShape(1, 4)))
	assert.False(t, ShouldTranspose(MustShape(2, 3), MustShape(5, 7)))
	assert.False(t, ShouldTranspose(MustShape(3, 2, 2), MustShape(2, 3, 2)), "rank 3 never transposes")
}

func sequence(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestCopyElementsTransposeIsMatrixTranspose(t *testing.T) {
	t.Parallel()

	const w, h = 3, 4
	in := MustShape(w, h)
	out := MustShape(h, w)
	src := Float32Buffer(sequence(w * h))
	dst := NewBuffer(Float32, w*h)

	require.True(t, ShouldTranspose(in, out))
	CopyElements(dst, out, 0, src, 0, w*h, true)

	for r := range h {
		for c := range w {
			assert.Equal(t, src.F32[r*w+c], dst.F32[c*h+r], "in(%d,%d)", r, c)
		}
	}
}

func TestCopyElementsChunkedTransposeMatchesSingleCopy(t *testing.T) {
	t.Parallel()

	out := MustShape(4, 3)
	src := Float32Buffer(sequence(12))

	whole := NewBuffer(Float32, 12)
	CopyElements(whole, out, 0, src, 0, 12, true)

	chunked := NewBuffer(Float32, 12)
	pos := 0
	for _, n := range []int{5, 1, 6} {
		CopyElements(chunked, out, pos, src, pos, n, true)
		pos += n
	}
	assert.Equal(t, whole.F32, chunked.F32)
}

func TestTransposeRoundTrip(t *testing.T) {
	t.Parallel()

	orig := &Packet{Payload: Float32Buffer(sequence(15)), Shape: MustShape(5, 3), Timestamp: time.Now()}

	once, err := Transpose(orig)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, once.Shape.Dims())
	assert.NotEqual(t, orig.Payload.F32, once.Payload.F32)

	twice, err := Transpose(once)
	require.NoError(t, err)
	assert.Equal(t, orig.Shape, twice.Shape)
	assert.Equal(t, orig.Payload.F32, twice.Payload.F32)
}

func TestSquareCopyIsNatural(t *testing.T) {
	t.Parallel()

	sq := MustShape(3, 3)
	src := Float32Buffer(sequence(9))
	dst := NewBuffer(Float32, 9)
	CopyElements(dst, sq, 0, src, 0, 9, ShouldTranspose(sq, sq))
	assert.Equal(t, src.F32, dst.F32)
}

func TestCopyElementsWidensInt16(t *testing.T) {
	t.Parallel()

	src := Int16Buffer([]int16{-32768, -1, 0, 1, 32767})
	dst := NewBuffer(Float32, 7)
	CopyElements(dst, MustShape(7), 2, src, 0, 5, false)
	assert.Equal(t, []float32{0, 0, -32768, -1, 0, 1, 32767}, dst.F32)

	dst16 := NewBuffer(Int16, 2)
	CopyElements(dst16, MustShape(2), 0, src, 3, 2, false)
	assert.Equal(t, []int16{1, 32767}, dst16.I16)
}

func TestBufferHelpers(t *testing.T) {
	t.Parallel()

	b := NewBuffer(Int16, 6)
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, 12, b.Bytes())

	view := b.Slice(2, 4)
	view.I16[0] = 7
	assert.Equal(t, int16(7), b.I16[2], "slice shares storage")

	clone := b.Clone()
	clone.I16[2] = 9
	assert.Equal(t, int16(7), b.I16[2], "clone does not")

	b.Zero()
	assert.Equal(t, make([]int16, 6), b.I16)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, b.Float32s())
}

func TestNewPacketValidatesPayload(t *testing.T) {
	t.Parallel()

	_, err := NewPacket(NewBuffer(Float32, 5), MustShape(2, 3), time.Time{})
	require.ErrorIs(t, err, ErrInvalidShape)

	p, err := NewPacket(NewBuffer(Float32, 6), MustShape(2, 3), time.Time{})
	require.NoError(t, err)
	c := p.Clone()
	c.Payload.F32[0] = 1
	assert.Zero(t, p.Payload.F32[0])
}

func TestParseElementType(t *testing.T) {
	t.Parallel()

	et, err := ParseElementType("Float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, et)

	_, err = ParseElementType("int8")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

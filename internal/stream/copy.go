package stream

import "fmt"

// CheckFormat reports whether samples of type in can be stored as out.
// Only identity and int16 to float32 widening are supported.
func CheckFormat(in, out ElementType) error {
	switch {
	case in == Int16 && out == Int16,
		in == Int16 && out == Float32,
		in == Float32 && out == Float32:
		return nil
	default:
		return fmt.Errorf("%w: %s to %s", ErrUnsupportedFormat, in, out)
	}
}

// CheckRank rejects shapes of different rank and anything above rank 2.
// Higher ranks may be declared on a Shape but items are only written as
// rows and columns.
func CheckRank(in, out Shape) error {
	if in.Rank() > 2 || out.Rank() > 2 {
		return fmt.Errorf("%w: rank %d to rank %d", ErrNotImplemented, in.Rank(), out.Rank())
	}
	if in.Rank() != out.Rank() {
		return fmt.Errorf("%w: rank %d to rank %d", ErrNotImplemented, in.Rank(), out.Rank())
	}
	return nil
}

// ShouldTranspose reports whether in and out are each other's transpose.
// Square inputs and shapes above rank 2 are never transposed.
func ShouldTranspose(in, out Shape) bool {
	if in.Rank() > 2 || out.Rank() > 2 || in.Width() == in.Height() {
		return false
	}
	return in.Width() == out.Height() || in.Height() == out.Width()
}

// destIndex maps the logical write cursor k of an item with shape out to a
// physical index. In transpose mode each run of out.Height() logical
// elements fills one output column.
func destIndex(k int, out Shape, transpose bool) int {
	if !transpose {
		return k
	}
	h := out.Height()
	col, row := k/h, k%h
	return row*out.Width() + col
}

// CopyElements copies n elements from src starting at srcPos into dst,
// whose logical cursor starts at dstPos. dst is an item laid out as
// dstShape. Formats must already have passed CheckFormat.
func CopyElements(dst Buffer, dstShape Shape, dstPos int, src Buffer, srcPos, n int, transpose bool) {
	switch {
	case src.Type == Int16 && dst.Type == Int16:
		if !transpose {
			copy(dst.I16[dstPos:dstPos+n], src.I16[srcPos:srcPos+n])
			return
		}
		for i := range n {
			dst.I16[destIndex(dstPos+i, dstShape, true)] = src.I16[srcPos+i]
		}
	case src.Type == Int16 && dst.Type == Float32:
		for i := range n {
			dst.F32[destIndex(dstPos+i, dstShape, transpose)] = float32(src.I16[srcPos+i])
		}
	case src.Type == Float32 && dst.Type == Float32:
		if !transpose {
			copy(dst.F32[dstPos:dstPos+n], src.F32[srcPos:srcPos+n])
			return
		}
		for i := range n {
			dst.F32[destIndex(dstPos+i, dstShape, true)] = src.F32[srcPos+i]
		}
	}
}

// Transpose returns a copy of p laid out as its transpose. It is the
// whole-packet form of the item copy and is used by tools that need to
// inspect items in the sender's orientation.
func Transpose(p *Packet) (*Packet, error) {
	if p.Shape.Rank() != 2 {
		return nil, fmt.Errorf("%w: transpose of rank %d", ErrNotImplemented, p.Shape.Rank())
	}
	out, err := NewShape(p.Shape.Height(), p.Shape.Width())
	if err != nil {
		return nil, err
	}
	dst := NewBuffer(p.Payload.Type, p.Payload.Len())
	CopyElements(dst, out, 0, p.Payload, 0, p.Payload.Len(), ShouldTranspose(p.Shape, out))
	return &Packet{Payload: dst, Shape: out, Mode: p.Mode, Timestamp: p.Timestamp}, nil
}

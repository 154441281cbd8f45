// Package stream defines the data carried through the pipeline: element
// types, shapes, typed sample buffers and packets, plus the copy kernels the
// stage adapter uses to widen and transpose samples into ring buffer items.
//
// Layout is row-major: for a shape of width W and height H, element (row r,
// column c) lives at index r*W + c. Width is the first dimension.
package stream

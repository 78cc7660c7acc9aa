// Copyright 2018 The Cacophony Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ufmf

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

const (
	magic       = "ufmf"
	version     = 4
	colorCoding = "MONO8"

	keyFrameChunk = 0
	frameChunk    = 1
	indexChunk    = 2

	keyFrameTypeMean = "mean"
	dataTypeFloat32  = 'f'

	// Byte offset of the index pointer in the header.
	indexPtrOffset = int64(len(magic) + 4)

	frameChunkHeaderSize = 1 + 8 + 4
	boxHeaderSize        = 4 * 2
)

// NewBuilder returns a new Builder writing UFMF chunks to w. Offsets are
// counted from the first byte written through the Builder.
func NewBuilder(w io.Writer) *Builder {
	return &Builder{w: w}
}

// Builder handles the low-level construction of UFMF chunks. See Writer
// for a higher-level interface.
type Builder struct {
	w      io.Writer
	offset int64
	buf    []byte
}

// Offset returns the file offset of the next byte to be written.
func (b *Builder) Offset() int64 {
	return b.offset
}

func (b *Builder) flushBuf() error {
	n, err := b.w.Write(b.buf)
	b.offset += int64(n)
	b.buf = b.buf[:0]
	return err
}

// WriteHeader writes the file header with a zero index pointer, to be
// patched once the index has been written.
func (b *Builder) WriteHeader(cols, rows int) error {
	b.buf = append(b.buf[:0], magic...)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, version)
	b.buf = binary.LittleEndian.AppendUint64(b.buf, 0)
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(cols))
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(rows))
	b.buf = append(b.buf, 0) // boxes are variable size
	b.buf = append(b.buf, byte(len(colorCoding)))
	b.buf = append(b.buf, colorCoding...)
	return b.flushBuf()
}

// WriteFrame writes a frame chunk and returns its offset.
func (b *Builder) WriteFrame(cf *CompressedFrame) (int64, error) {
	start := b.offset
	b.buf = append(b.buf[:0], frameChunk)
	b.buf = appendFloat64(b.buf, seconds(cf.Timestamp))
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(cf.Boxes)))
	k := 0
	for _, box := range cf.Boxes {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, box.Col)
		b.buf = binary.LittleEndian.AppendUint16(b.buf, box.Row)
		b.buf = binary.LittleEndian.AppendUint16(b.buf, box.Width)
		b.buf = binary.LittleEndian.AppendUint16(b.buf, box.Height)
		area := box.Area()
		b.buf = append(b.buf, cf.Data[k:k+area]...)
		k += area
	}
	return start, b.flushBuf()
}

// WriteKeyFrame writes a background keyframe chunk holding the per-pixel
// median and returns its offset.
func (b *Builder) WriteKeyFrame(cols, rows int, ts time.Duration, center []float32) (int64, error) {
	start := b.offset
	b.buf = append(b.buf[:0], keyFrameChunk)
	b.buf = append(b.buf, byte(len(keyFrameTypeMean)))
	b.buf = append(b.buf, keyFrameTypeMean...)
	b.buf = append(b.buf, dataTypeFloat32)
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(cols))
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(rows))
	b.buf = appendFloat64(b.buf, seconds(ts))
	for _, c := range center {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, math.Float32bits(c))
	}
	return start, b.flushBuf()
}

// WriteIndex writes the index chunk. The returned offset is that of the
// index dictionary, just past the chunk tag, which is what the header's
// index pointer refers to.
func (b *Builder) WriteIndex(idx *Index) (int64, error) {
	b.buf = append(b.buf[:0], indexChunk)
	dictOffset := b.offset + 1
	b.buf = idx.appendDict(b.buf)
	return dictOffset, b.flushBuf()
}

func appendFloat64(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func duration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

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
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

// NewReader returns a new Reader for the UFMF recording in r. The index is
// loaded up front. Recordings that were never finished have no index; their
// chunks are scanned instead and Recovered reports true.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	rd := &Reader{r: r, size: size}
	br := bufio.NewReader(r)
	if err := rd.readHeader(br); err != nil {
		return nil, err
	}
	if rd.indexPtr == 0 {
		if err := rd.scan(); err != nil {
			return nil, err
		}
		rd.recovered = true
		return rd, nil
	}
	if rd.indexPtr >= uint64(size) {
		return nil, fmt.Errorf("%w: index at %d beyond end of %d byte file", ErrBadFormat, rd.indexPtr, size)
	}
	if _, err := r.Seek(int64(rd.indexPtr), io.SeekStart); err != nil {
		return nil, err
	}
	idx, err := readIndex(bufio.NewReader(r), size-int64(rd.indexPtr))
	if err != nil {
		return nil, fmt.Errorf("reading index at %d: %w", rd.indexPtr, err)
	}
	rd.index = *idx
	return rd, nil
}

// Reader gives random access to the frames and background keyframes of a
// UFMF recording.
type Reader struct {
	r          io.ReadSeeker
	size       int64
	version    uint32
	indexPtr   uint64
	cols, rows int
	fixedSize  bool
	coding     string
	headerSize int64
	index      Index
	recovered  bool

	keyFrame    *KeyFrame
	keyFrameIdx int
}

// KeyFrame is a background image stored in the recording.
type KeyFrame struct {
	Type       string
	Timestamp  time.Duration
	Cols, Rows int
	Center     []float32
}

func (r *Reader) readHeader(br *bufio.Reader) error {
	var m [len(magic)]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if string(m[:]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrBadFormat, m[:])
	}
	var hdr struct {
		Version   uint32
		IndexPtr  uint64
		Cols      uint16
		Rows      uint16
		FixedSize uint8
		CodingLen uint8
	}
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if hdr.Version != version {
		return fmt.Errorf("%w: unsupported version %d", ErrBadFormat, hdr.Version)
	}
	coding := make([]byte, hdr.CodingLen)
	if _, err := io.ReadFull(br, coding); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	r.version = hdr.Version
	r.indexPtr = hdr.IndexPtr
	r.cols = int(hdr.Cols)
	r.rows = int(hdr.Rows)
	r.fixedSize = hdr.FixedSize != 0
	r.coding = string(coding)
	r.headerSize = int64(len(magic)) + int64(binary.Size(hdr)) + int64(len(coding))
	if r.fixedSize {
		return fmt.Errorf("%w: fixed size boxes are not supported", ErrBadFormat)
	}
	if r.coding != colorCoding {
		return fmt.Errorf("%w: unsupported color coding %q", ErrBadFormat, r.coding)
	}
	return nil
}

// scan rebuilds the index by walking the chunks. A truncated final chunk
// is ignored.
func (r *Reader) scan() error {
	if _, err := r.r.Seek(r.headerSize, io.SeekStart); err != nil {
		return err
	}
	cr := &countingReader{r: bufio.NewReader(r.r), n: r.headerSize}
	for {
		off := cr.n
		var tag [1]byte
		if _, err := io.ReadFull(cr, tag[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var err error
		switch tag[0] {
		case frameChunk:
			cf := &CompressedFrame{}
			err = r.readFrameInto(cr, cf)
			if err == nil {
				r.index.Frames = append(r.index.Frames, IndexEntry{Offset: off, Timestamp: cf.Timestamp})
			}
		case keyFrameChunk:
			var kf *KeyFrame
			kf, err = r.readKeyFrameBody(cr)
			if err == nil {
				r.index.KeyFrames = append(r.index.KeyFrames, IndexEntry{Offset: off, Timestamp: kf.Timestamp})
			}
		case indexChunk:
			return nil
		default:
			return fmt.Errorf("%w: unknown chunk %d at offset %d", ErrBadFormat, tag[0], off)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Version returns the UFMF version number of the file.
func (r *Reader) Version() int {
	return int(r.version)
}

// ResX returns the frame width.
func (r *Reader) ResX() int {
	return r.cols
}

// ResY returns the frame height.
func (r *Reader) ResY() int {
	return r.rows
}

func (r *Reader) ColorCoding() string {
	return r.coding
}

func (r *Reader) FixedSize() bool {
	return r.fixedSize
}

// Recovered reports whether the index was rebuilt from an unfinished
// recording.
func (r *Reader) Recovered() bool {
	return r.recovered
}

func (r *Reader) NumFrames() int {
	return len(r.index.Frames)
}

func (r *Reader) NumKeyFrames() int {
	return len(r.index.KeyFrames)
}

// Index returns the recording's index.
func (r *Reader) Index() Index {
	return r.index
}

// EmptyFrame returns a frame sized for this recording.
func (r *Reader) EmptyFrame() *ufmfframe.Frame {
	return ufmfframe.NewFrame(r)
}

// ReadFrame returns the boxes stored for frame i, counting from zero.
func (r *Reader) ReadFrame(i int) (*CompressedFrame, error) {
	if i < 0 || i >= len(r.index.Frames) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", i, len(r.index.Frames))
	}
	br, err := r.chunk(r.index.Frames[i].Offset, frameChunk)
	if err != nil {
		return nil, err
	}
	cf := &CompressedFrame{cols: r.cols, rows: r.rows, Number: uint64(i + 1)}
	if err := r.readFrameInto(br, cf); err != nil {
		return nil, fmt.Errorf("frame %d: %w", i, err)
	}
	full := Box{Width: uint16(r.cols), Height: uint16(r.rows)}
	cf.Compressed = !(len(cf.Boxes) == 1 && cf.Boxes[0] == full)
	return cf, nil
}

// ReadKeyFrame returns background keyframe i, counting from zero.
func (r *Reader) ReadKeyFrame(i int) (*KeyFrame, error) {
	if i < 0 || i >= len(r.index.KeyFrames) {
		return nil, fmt.Errorf("keyframe %d out of range [0, %d)", i, len(r.index.KeyFrames))
	}
	br, err := r.chunk(r.index.KeyFrames[i].Offset, keyFrameChunk)
	if err != nil {
		return nil, err
	}
	kf, err := r.readKeyFrameBody(br)
	if err != nil {
		return nil, fmt.Errorf("keyframe %d: %w", i, err)
	}
	return kf, nil
}

// DecodeFrame reconstructs frame i into out: the background from the most
// recent keyframe, overwritten by the frame's boxes.
func (r *Reader) DecodeFrame(i int, out *ufmfframe.Frame) error {
	cf, err := r.ReadFrame(i)
	if err != nil {
		return err
	}
	var center []float32
	if k := r.keyFrameFor(r.index.Frames[i].Offset); k >= 0 {
		if r.keyFrame == nil || r.keyFrameIdx != k {
			kf, err := r.ReadKeyFrame(k)
			if err != nil {
				return err
			}
			r.keyFrame, r.keyFrameIdx = kf, k
		}
		center = r.keyFrame.Center
	}
	pix := make([]uint8, r.cols*r.rows)
	cf.Reconstruct(pix, center)
	out.Fill(pix)
	out.Status.Timestamp = cf.Timestamp
	out.Status.FrameCount = i + 1
	return nil
}

// keyFrameFor returns the index of the last keyframe written before the
// chunk at off, or -1.
func (r *Reader) keyFrameFor(off int64) int {
	kfs := r.index.KeyFrames
	return sort.Search(len(kfs), func(j int) bool { return kfs[j].Offset > off }) - 1
}

// chunk positions the reader at the body of the chunk at off, after
// checking its tag.
func (r *Reader) chunk(off int64, want byte) (*bufio.Reader, error) {
	if _, err := r.r.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	br := bufio.NewReader(r.r)
	tag, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != want {
		return nil, fmt.Errorf("%w: chunk at %d has tag %d, want %d", ErrBadFormat, off, tag, want)
	}
	return br, nil
}

func (r *Reader) readFrameInto(rd io.Reader, cf *CompressedFrame) error {
	var hdr struct {
		Timestamp float64
		NumBoxes  uint32
	}
	if err := binary.Read(rd, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	cf.Timestamp = duration(hdr.Timestamp)
	cf.Boxes = cf.Boxes[:0]
	cf.Data = cf.Data[:0]
	for j := uint32(0); j < hdr.NumBoxes; j++ {
		var b Box
		if err := binary.Read(rd, binary.LittleEndian, &b); err != nil {
			return err
		}
		if int(b.Col)+int(b.Width) > r.cols || int(b.Row)+int(b.Height) > r.rows || int64(b.Area()) > r.size {
			return fmt.Errorf("%w: box %+v outside %dx%d frame", ErrBadFormat, b, r.cols, r.rows)
		}
		cf.Boxes = append(cf.Boxes, b)
		n := len(cf.Data)
		cf.Data = append(cf.Data, make([]uint8, b.Area())...)
		if _, err := io.ReadFull(rd, cf.Data[n:]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readKeyFrameBody(rd io.Reader) (*KeyFrame, error) {
	var typeLen [1]byte
	if _, err := io.ReadFull(rd, typeLen[:]); err != nil {
		return nil, err
	}
	typ := make([]byte, typeLen[0])
	if _, err := io.ReadFull(rd, typ); err != nil {
		return nil, err
	}
	var hdr struct {
		DataType  byte
		Cols      uint16
		Rows      uint16
		Timestamp float64
	}
	if err := binary.Read(rd, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.DataType != dataTypeFloat32 {
		return nil, fmt.Errorf("%w: keyframe data type %q", ErrBadFormat, hdr.DataType)
	}
	if int(hdr.Cols) != r.cols || int(hdr.Rows) != r.rows {
		return nil, fmt.Errorf("%w: %dx%d keyframe in %dx%d recording", ErrBadFormat, hdr.Cols, hdr.Rows, r.cols, r.rows)
	}
	if n := int64(hdr.Cols) * int64(hdr.Rows) * 4; n > r.size {
		return nil, fmt.Errorf("%w: %d byte keyframe in %d byte file", ErrBadFormat, n, r.size)
	}
	kf := &KeyFrame{
		Type:      string(typ),
		Timestamp: duration(hdr.Timestamp),
		Cols:      int(hdr.Cols),
		Rows:      int(hdr.Rows),
		Center:    make([]float32, int(hdr.Cols)*int(hdr.Rows)),
	}
	bits := make([]uint32, len(kf.Center))
	if err := binary.Read(rd, binary.LittleEndian, bits); err != nil {
		return nil, err
	}
	for j, b := range bits {
		kf.Center[j] = math.Float32frombits(b)
	}
	return kf, nil
}

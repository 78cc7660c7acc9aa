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

package source

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/spf13/afero"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

const (
	fmfVersion    = 1
	fmfHeaderSize = 4 + 4 + 4 + 8 + 8
	fmfCountAt    = 4 + 4 + 4 + 8
)

// ErrNotFMF is returned for files without a version 1 FMF header.
var ErrNotFMF = errors.New("not an FMF v1 file")

type fmfHeader struct {
	Version       uint32
	Rows          uint32
	Cols          uint32
	BytesPerChunk uint64
	Frames        uint64
}

// FMF reads frames from an uncompressed FMF file: a fixed header followed
// by chunks of an 8 byte timestamp in seconds and one byte per pixel.
type FMF struct {
	f      afero.File
	r      *bufio.Reader
	hdr    fmfHeader
	frames uint64
	n      uint64
	chunk  []byte
}

// OpenFMF opens the FMF file at path. If the header's frame count was
// never filled in, it is worked out from the file size.
func OpenFMF(fs afero.Fs, path string) (*FMF, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	s := &FMF{f: f, r: bufio.NewReader(f)}
	if err := binary.Read(s.r, binary.LittleEndian, &s.hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %v", path, ErrNotFMF, err)
	}
	h := s.hdr
	if h.Version != fmfVersion || h.Cols == 0 || h.Rows == 0 || h.Cols > math.MaxUint16 || h.Rows > math.MaxUint16 ||
		h.BytesPerChunk != uint64(h.Cols)*uint64(h.Rows)+8 {
		f.Close()
		return nil, fmt.Errorf("%s: %w: version %d, %dx%d, %d byte chunks", path, ErrNotFMF, h.Version, h.Cols, h.Rows, h.BytesPerChunk)
	}
	s.frames = h.Frames
	if s.frames == 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		s.frames = uint64(info.Size()-fmfHeaderSize) / h.BytesPerChunk
	}
	s.chunk = make([]byte, h.BytesPerChunk)
	return s, nil
}

func (s *FMF) ResX() int { return int(s.hdr.Cols) }
func (s *FMF) ResY() int { return int(s.hdr.Rows) }

// Frames is the number of frames in the file.
func (s *FMF) Frames() int { return int(s.frames) }

func (s *FMF) Next(frame *ufmfframe.Frame) error {
	if s.n >= s.frames {
		return io.EOF
	}
	if _, err := io.ReadFull(s.r, s.chunk); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}
	secs := math.Float64frombits(binary.LittleEndian.Uint64(s.chunk))
	frame.Fill(s.chunk[8:])
	frame.Status.Timestamp = time.Duration(math.Round(secs * float64(time.Second)))
	s.n++
	frame.Status.FrameCount = int(s.n)
	return nil
}

func (s *FMF) Close() error {
	return s.f.Close()
}

// FMFWriter writes uncompressed FMF files.
type FMFWriter struct {
	f     afero.File
	w     *bufio.Writer
	cols  int
	rows  int
	n     uint64
	chunk []byte
}

// CreateFMF starts an FMF file for frames of camera c.
func CreateFMF(fs afero.Fs, path string, c ufmfframe.CameraSpec) (*FMFWriter, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, err
	}
	fw := &FMFWriter{
		f:     f,
		w:     bufio.NewWriter(f),
		cols:  c.ResX(),
		rows:  c.ResY(),
		chunk: make([]byte, 8+c.ResX()*c.ResY()),
	}
	hdr := fmfHeader{
		Version:       fmfVersion,
		Rows:          uint32(fw.rows),
		Cols:          uint32(fw.cols),
		BytesPerChunk: uint64(len(fw.chunk)),
	}
	if err := binary.Write(fw.w, binary.LittleEndian, &hdr); err != nil {
		f.Close()
		return nil, err
	}
	return fw, nil
}

// Write appends a frame, truncating pixel values to 8 bits.
func (fw *FMFWriter) Write(frame *ufmfframe.Frame) error {
	if frame.ResX() != fw.cols || frame.ResY() != fw.rows {
		return fmt.Errorf("frame is %dx%d, file is %dx%d", frame.ResX(), frame.ResY(), fw.cols, fw.rows)
	}
	binary.LittleEndian.PutUint64(fw.chunk, math.Float64bits(frame.Status.Timestamp.Seconds()))
	frame.Flatten(fw.chunk[8:])
	if _, err := fw.w.Write(fw.chunk); err != nil {
		return err
	}
	fw.n++
	return nil
}

// Close fills in the frame count and closes the file.
func (fw *FMFWriter) Close() error {
	if err := fw.w.Flush(); err != nil {
		fw.f.Close()
		return err
	}
	if _, err := fw.f.Seek(fmfCountAt, io.SeekStart); err != nil {
		fw.f.Close()
		return err
	}
	if err := binary.Write(fw.f, binary.LittleEndian, fw.n); err != nil {
		fw.f.Close()
		return err
	}
	return fw.f.Close()
}

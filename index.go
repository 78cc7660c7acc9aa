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
	"fmt"
	"io"
	"time"
)

// Index dictionary value tags.
const (
	dictTag      = 'd'
	arrayTag     = 'a'
	arrayInt64   = 'q'
	arrayFloat64 = 'd'
)

// IndexEntry locates a chunk in the file.
type IndexEntry struct {
	Offset    int64
	Timestamp time.Duration
}

// Index lists every frame and background keyframe chunk in file order.
type Index struct {
	Frames    []IndexEntry
	KeyFrames []IndexEntry
}

// Reset empties the index, keeping its storage.
func (idx *Index) Reset() {
	idx.Frames = idx.Frames[:0]
	idx.KeyFrames = idx.KeyFrames[:0]
}

// appendDict encodes the index as
//
//	{"frame": {"loc": q[], "timestamp": d[]},
//	 "keyframe": {"mean": {"loc": q[], "timestamp": d[]}}}
func (idx *Index) appendDict(buf []byte) []byte {
	buf = appendDictHeader(buf, 2)
	buf = appendKey(buf, "frame")
	buf = appendEntries(buf, idx.Frames)
	buf = appendKey(buf, "keyframe")
	buf = appendDictHeader(buf, 1)
	buf = appendKey(buf, keyFrameTypeMean)
	buf = appendEntries(buf, idx.KeyFrames)
	return buf
}

func appendEntries(buf []byte, entries []IndexEntry) []byte {
	buf = appendDictHeader(buf, 2)
	buf = appendKey(buf, "loc")
	buf = append(buf, arrayTag, arrayInt64)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(8*len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Offset))
	}
	buf = appendKey(buf, "timestamp")
	buf = append(buf, arrayTag, arrayFloat64)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(8*len(entries)))
	for _, e := range entries {
		buf = appendFloat64(buf, seconds(e.Timestamp))
	}
	return buf
}

func appendDictHeader(buf []byte, nKeys int) []byte {
	return append(buf, dictTag, byte(nKeys))
}

func appendKey(buf []byte, key string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(key)))
	return append(buf, key...)
}

// readIndex decodes an index dictionary of at most limit bytes.
func readIndex(r io.Reader, limit int64) (*Index, error) {
	v, err := readDictValue(r, limit)
	if err != nil {
		return nil, err
	}
	top, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: index is not a dictionary", ErrBadFormat)
	}
	idx := new(Index)
	if frames, ok := top["frame"]; ok {
		if idx.Frames, err = indexEntries(frames); err != nil {
			return nil, fmt.Errorf("frame index: %w", err)
		}
	}
	if kf, ok := top["keyframe"].(map[string]interface{}); ok {
		if mean, ok := kf[keyFrameTypeMean]; ok {
			if idx.KeyFrames, err = indexEntries(mean); err != nil {
				return nil, fmt.Errorf("keyframe index: %w", err)
			}
		}
	}
	return idx, nil
}

func indexEntries(v interface{}) ([]IndexEntry, error) {
	d, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a dictionary", ErrBadFormat)
	}
	locs, ok := d["loc"].([]int64)
	if !ok {
		return nil, fmt.Errorf("%w: missing loc array", ErrBadFormat)
	}
	stamps, ok := d["timestamp"].([]float64)
	if !ok {
		return nil, fmt.Errorf("%w: missing timestamp array", ErrBadFormat)
	}
	if len(locs) != len(stamps) {
		return nil, fmt.Errorf("%w: %d locations but %d timestamps", ErrBadFormat, len(locs), len(stamps))
	}
	entries := make([]IndexEntry, len(locs))
	for i := range locs {
		entries[i] = IndexEntry{Offset: locs[i], Timestamp: duration(stamps[i])}
	}
	return entries, nil
}

// readDictValue decodes one self-describing value: a dictionary, or an
// array of 8 byte integers or doubles. Arrays longer than limit bytes are
// rejected before anything is allocated for them.
func readDictValue(r io.Reader, limit int64) (interface{}, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	switch tag[0] {
	case dictTag:
		var nKeys uint8
		if err := binary.Read(r, binary.LittleEndian, &nKeys); err != nil {
			return nil, err
		}
		d := make(map[string]interface{}, nKeys)
		for i := 0; i < int(nKeys); i++ {
			var keyLen uint16
			if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
				return nil, err
			}
			key := make([]byte, keyLen)
			if _, err := io.ReadFull(r, key); err != nil {
				return nil, err
			}
			v, err := readDictValue(r, limit)
			if err != nil {
				return nil, err
			}
			d[string(key)] = v
		}
		return d, nil
	case arrayTag:
		var hdr struct {
			DataType byte
			NBytes   uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			return nil, err
		}
		if hdr.NBytes%8 != 0 || int64(hdr.NBytes) > limit {
			return nil, fmt.Errorf("%w: array of %d bytes", ErrBadFormat, hdr.NBytes)
		}
		n := int(hdr.NBytes / 8)
		switch hdr.DataType {
		case arrayInt64:
			out := make([]int64, n)
			return out, binary.Read(r, binary.LittleEndian, out)
		case arrayFloat64:
			out := make([]float64, n)
			return out, binary.Read(r, binary.LittleEndian, out)
		default:
			return nil, fmt.Errorf("%w: unsupported array type %q", ErrBadFormat, hdr.DataType)
		}
	default:
		return nil, fmt.Errorf("%w: unknown index value tag %q", ErrBadFormat, tag[0])
	}
}

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
	"math"
	"time"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

// Box is a rectangle of stored pixels within a frame.
type Box struct {
	Col, Row      uint16
	Width, Height uint16
}

// Area returns the number of pixels in the box.
func (b Box) Area() int {
	return int(b.Width) * int(b.Height)
}

// NewCompressedFrame creates a CompressedFrame sized for the given camera.
// Boxes are at most boxLength pixels on a side; frames with more than
// maxFracFg of their pixels in the foreground are stored whole.
func NewCompressedFrame(c ufmfframe.CameraSpec, boxLength int, maxFracFg float64) *CompressedFrame {
	nPixels := c.ResX() * c.ResY()
	return &CompressedFrame{
		cols:          c.ResX(),
		rows:          c.ResY(),
		boxLength:     boxLength,
		maxForeground: int(float64(nPixels) * maxFracFg),
		Boxes:         make([]Box, 0, 64),
		Data:          make([]uint8, 0, nPixels),
		isFore:        make([]bool, nPixels),
		writes:        make([]uint16, nPixels),
	}
}

// CompressedFrame is the box representation of one frame: the pixels
// that differ from the background, cut into boxes, with the box contents
// packed row by row into Data.
type CompressedFrame struct {
	cols, rows    int
	boxLength     int
	maxForeground int

	Number    uint64
	Timestamp time.Duration
	Boxes     []Box
	Data      []uint8
	// NumForeground is the number of pixels outside the background
	// bounds.
	NumForeground int
	// Compressed is false when the frame had too much foreground and
	// was stored as a single full frame box.
	Compressed bool

	isFore []bool
	// writes counts how often each pixel was stored; never above one.
	writes []uint16

	// Pipeline bookkeeping, owned by whichever stage holds the frame.
	id           int
	state        slotState
	bounds       *Bounds
	added        time.Time
	compressTime time.Duration
	errChecked   bool
	meanAbsError float64
	scratch      []uint8
}

// SetData compresses the row-major frame pix against the given bounds.
//
// IMPORTANT: Boxes and Data are reused and are only valid until the next
// call to SetData.
func (cf *CompressedFrame) SetData(pix []uint8, ts time.Duration, number uint64, lower, upper []uint8) {
	cf.Number = number
	cf.Timestamp = ts
	cf.Boxes = cf.Boxes[:0]
	cf.Data = cf.Data[:0]

	numFore := 0
	for i, v := range pix {
		fg := v < lower[i] || v > upper[i]
		cf.isFore[i] = fg
		if fg {
			numFore++
		}
	}
	cf.NumForeground = numFore

	if numFore > cf.maxForeground {
		// Too much foreground to be worth cutting up.
		cf.Boxes = append(cf.Boxes, Box{Width: uint16(cf.cols), Height: uint16(cf.rows)})
		cf.Data = append(cf.Data, pix...)
		for i := range cf.writes {
			cf.writes[i] = 1
		}
		cf.Compressed = false
		return
	}

	for i := range cf.writes {
		cf.writes[i] = 0
	}
	i := 0
	for r := 0; r < cf.rows; r++ {
		for c := 0; c < cf.cols; c, i = c+1, i+1 {
			if !cf.isFore[i] {
				continue
			}

			// Store everything in the box with its corner at (r, c),
			// without touching pixels an earlier box already stored.
			w := min(cf.boxLength, cf.cols-c)
			h := min(cf.boxLength, cf.rows-r)
			for r1 := r; r1 < r+h; r1++ {
				row := r1 * cf.cols
				stop := c
				for stop < c+w && cf.writes[row+stop] == 0 {
					stop++
				}
				if stop < c+w {
					if r1 == r {
						w = stop - c
					} else {
						h = r1 - r
						break
					}
				}
				for c1 := row + c; c1 < row+c+w; c1++ {
					cf.writes[c1]++
					cf.Data = append(cf.Data, pix[c1])
					cf.isFore[c1] = false
				}
			}
			cf.Boxes = append(cf.Boxes, Box{
				Col:    uint16(c),
				Row:    uint16(r),
				Width:  uint16(w),
				Height: uint16(h),
			})
		}
	}
	cf.Compressed = true
}

// NumBoxes returns the number of boxes in the frame.
func (cf *CompressedFrame) NumBoxes() int {
	return len(cf.Boxes)
}

// Writes returns how many times pixel i was stored.
func (cf *CompressedFrame) Writes(i int) int {
	return int(cf.writes[i])
}

// PixelsWritten returns the number of pixels stored in boxes.
func (cf *CompressedFrame) PixelsWritten() int {
	return len(cf.Data)
}

// ChunkSize returns the size of the frame's chunk in the file.
func (cf *CompressedFrame) ChunkSize() int {
	return frameChunkHeaderSize + boxHeaderSize*len(cf.Boxes) + len(cf.Data)
}

// Reconstruct fills dst with the frame as a reader would decode it: the
// rounded background with the stored boxes painted over it.
func (cf *CompressedFrame) Reconstruct(dst []uint8, background []float32) {
	fillBackground(dst, background)
	paintBoxes(dst, cf.cols, cf.Boxes, cf.Data)
}

// meanAbsErrorAgainst returns the mean absolute difference between pix
// and the frame's reconstruction.
func (cf *CompressedFrame) meanAbsErrorAgainst(pix []uint8, background []float32) float64 {
	if len(cf.scratch) != len(pix) {
		cf.scratch = make([]uint8, len(pix))
	}
	cf.Reconstruct(cf.scratch, background)
	var sum int
	for i, v := range pix {
		d := int(v) - int(cf.scratch[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(pix))
}

func fillBackground(dst []uint8, background []float32) {
	if background == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	for i, c := range background {
		dst[i] = clampByte(math.Round(float64(c)))
	}
}

func paintBoxes(dst []uint8, cols int, boxes []Box, data []uint8) {
	k := 0
	for _, b := range boxes {
		for y := int(b.Row); y < int(b.Row)+int(b.Height); y++ {
			start := y*cols + int(b.Col)
			k += copy(dst[start:start+int(b.Width)], data[k:k+int(b.Width)])
		}
	}
}

// Copyright 2020 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package ufmfframe

import "fmt"

// MaxMono8 is the largest pixel value representable in a MONO8 recording.
const MaxMono8 = 255

// Frame represents the grayscale intensities for a single frame.
//
// Pixels are held in 16 bit containers so that sensors delivering
// wider samples can be checked against the recording's pixel range
// before they are accepted.
type Frame struct {
	Pix    [][]uint16
	Status Telemetry
}

// Creates a new frame sized for the provided camera implementation
func NewFrame(c CameraSpec) *Frame {
	frame := new(Frame)
	frame.Pix = make([][]uint16, c.ResY())
	for i := range frame.Pix {
		frame.Pix[i] = make([]uint16, c.ResX())
	}
	return frame
}

// ResX returns the width of the frame.
func (fr *Frame) ResX() int {
	if len(fr.Pix) == 0 {
		return 0
	}
	return len(fr.Pix[0])
}

// ResY returns the height of the frame.
func (fr *Frame) ResY() int {
	return len(fr.Pix)
}

// Copy sets current frame as other frame
func (fr *Frame) Copy(orig *Frame) {
	fr.Status = orig.Status
	for y, row := range orig.Pix {
		copy(fr.Pix[y][:], row)
	}
}

// CheckSize returns an error unless the frame has rows rows of cols
// pixels each.
func (fr *Frame) CheckSize(cols, rows int) error {
	if len(fr.Pix) != rows {
		return fmt.Errorf("frame has %d rows, want %d", len(fr.Pix), rows)
	}
	for y, row := range fr.Pix {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d pixels, want %d", y, len(row), cols)
		}
	}
	return nil
}

// CheckRange returns an error describing the first pixel whose value
// exceeds max.
func (fr *Frame) CheckRange(max uint16) error {
	for y, row := range fr.Pix {
		for x, v := range row {
			if v > max {
				return fmt.Errorf("pixel (%d, %d) = %d exceeds %d", x, y, v, max)
			}
		}
	}
	return nil
}

// Flatten copies the frame into dst in row-major order, truncating each
// value to 8 bits. Callers are expected to have checked the range.
func (fr *Frame) Flatten(dst []uint8) {
	i := 0
	for _, row := range fr.Pix {
		for _, v := range row {
			dst[i] = uint8(v)
			i++
		}
	}
}

// Fill sets the frame pixels from a row-major 8 bit buffer.
func (fr *Frame) Fill(src []uint8) {
	i := 0
	for y := range fr.Pix {
		for x := range fr.Pix[y] {
			fr.Pix[y][x] = uint16(src[i])
			i++
		}
	}
}

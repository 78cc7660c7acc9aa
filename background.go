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
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

const (
	bgBinSize = 1
	bgNumBins = (ufmfframe.MaxMono8 + 1) / bgBinSize
	bgHalfBin = float32(bgBinSize-1) / 2
)

// NewBackgroundModel creates a background model for frames of nPixels
// pixels. The histograms are cleared at the first UpdateModel call made
// once resetThreshold frames have been added.
func NewBackgroundModel(nPixels, resetThreshold int) *BackgroundModel {
	return &BackgroundModel{
		nPixels:        nPixels,
		resetThreshold: resetThreshold,
		counts:         make([]uint8, nPixels*bgNumBins),
		center:         make([]float32, nPixels),
	}
}

// BackgroundModel keeps a per-pixel intensity histogram and an estimate
// of each pixel's median intensity.
//
// It is not safe for concurrent use; the Writer only touches it from the
// producer's AddFrame call.
type BackgroundModel struct {
	nPixels        int
	resetThreshold int

	// counts[pixel*bgNumBins+bin], saturating at 255.
	counts      []uint8
	center      []float32
	z           uint32
	framesAdded int
	updated     bool
}

// AddFrame adds a frame's pixels to the histograms. Frames with the wrong
// number of pixels or with values outside the MONO8 range are rejected
// without touching the model.
func (m *BackgroundModel) AddFrame(f *ufmfframe.Frame) error {
	if f.ResX()*f.ResY() != m.nPixels {
		return fmt.Errorf("%w: %dx%d frame for %d pixel model", ErrFrameSize, f.ResX(), f.ResY(), m.nPixels)
	}
	if err := f.CheckSize(f.ResX(), f.ResY()); err != nil {
		return fmt.Errorf("%w: %v", ErrFrameSize, err)
	}
	if err := f.CheckRange(ufmfframe.MaxMono8); err != nil {
		return fmt.Errorf("%w: %v", ErrPixelRange, err)
	}
	i := 0
	for _, row := range f.Pix {
		for _, v := range row {
			m.increment(i, uint8(v))
			i++
		}
	}
	m.added()
	return nil
}

// addPixels is AddFrame for an already validated, flattened frame.
func (m *BackgroundModel) addPixels(pix []uint8) {
	for i, v := range pix {
		m.increment(i, v)
	}
	m.added()
}

func (m *BackgroundModel) increment(i int, v uint8) {
	bin := i*bgNumBins + int(v)/bgBinSize
	if m.counts[bin] < math.MaxUint8 {
		m.counts[bin]++
	}
}

func (m *BackgroundModel) added() {
	m.z++
	m.framesAdded++
}

// UpdateModel recomputes the per-pixel median from the histograms. When
// at least resetThreshold frames have been added since the last reset
// the histograms are cleared afterwards. It returns false, leaving the
// model untouched, if no frames have been added since the last reset.
func (m *BackgroundModel) UpdateModel() bool {
	if m.z == 0 {
		return false
	}
	for i := 0; i < m.nPixels; i++ {
		counts := m.counts[i*bgNumBins : (i+1)*bgNumBins]
		// The median is over the counts held, which saturate, not over z.
		var total uint32
		for _, c := range counts {
			total += uint32(c)
		}
		half := total / 2
		var sum uint32
		j := 0
		for j < bgNumBins && sum <= half {
			sum += uint32(counts[j])
			j++
		}
		m.center[i] = float32((j-1)*bgBinSize) + bgHalfBin
	}
	m.updated = true

	if m.framesAdded >= m.resetThreshold {
		for i := range m.counts {
			m.counts[i] = 0
		}
		m.z = 0
		m.framesAdded = 0
	}
	return true
}

// Valid reports whether the median has been computed at least once.
func (m *BackgroundModel) Valid() bool { return m.updated }

// Center returns the current median estimate. The slice is owned by the
// model and changes on the next UpdateModel.
func (m *BackgroundModel) Center() []float32 { return m.center }

// FramesAdded returns the number of frames added since the last reset.
func (m *BackgroundModel) FramesAdded() int { return m.framesAdded }

// Count returns the histogram count for a pixel and intensity.
func (m *BackgroundModel) Count(pixel int, value uint8) uint8 {
	return m.counts[pixel*bgNumBins+int(value)/bgBinSize]
}

// Bounds is one generation of per-pixel background thresholds. A pixel
// is foreground when its value is below Lower or above Upper.
//
// Bounds are never modified once published, so a compression holding a
// generation can keep using it while a newer one is installed.
type Bounds struct {
	Generation int
	// FirstFrame is the first frame number compressed against this
	// generation. The keyframe is written immediately before it.
	FirstFrame uint64
	Lower      []uint8
	Upper      []uint8

	// Center and Timestamp describe the background keyframe. Center is
	// nil for the initial generation, which has no keyframe.
	Center    []float32
	Timestamp time.Duration
}

func initialBounds(nPixels int) *Bounds {
	return &Bounds{
		Lower: make([]uint8, nPixels),
		Upper: make([]uint8, nPixels),
	}
}

// newBounds derives thresholds from a copy of the model's median.
func newBounds(m *BackgroundModel, thresh float64, generation int, first uint64, ts time.Duration) *Bounds {
	b := &Bounds{
		Generation: generation,
		FirstFrame: first,
		Lower:      make([]uint8, m.nPixels),
		Upper:      make([]uint8, m.nPixels),
		Center:     make([]float32, m.nPixels),
		Timestamp:  ts,
	}
	copy(b.Center, m.center)
	for i, c := range b.Center {
		b.Lower[i] = clampByte(math.Ceil(float64(c) - thresh))
		b.Upper[i] = clampByte(math.Floor(float64(c) + thresh))
	}
	return b
}

func (b *Bounds) hasKeyframe() bool { return b.Center != nil }

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}

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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

func fillFrame(c ufmfframe.CameraSpec, v uint16) *ufmfframe.Frame {
	frame := ufmfframe.NewFrame(c)
	for y := range frame.Pix {
		for x := range frame.Pix[y] {
			frame.Pix[y][x] = v
		}
	}
	return frame
}

func TestBackgroundRejectsOutOfRange(t *testing.T) {
	camera := ufmfframe.Spec{Cols: 2, Rows: 2}
	m := NewBackgroundModel(4, 10)

	frame := fillFrame(camera, 40)
	frame.Pix[1][0] = 300
	err := m.AddFrame(frame)
	assert.ErrorIs(t, err, ErrPixelRange)
	assert.Equal(t, 0, m.FramesAdded())
	for p := 0; p < 4; p++ {
		assert.Equal(t, uint8(0), m.Count(p, 40))
	}

	assert.ErrorIs(t, m.AddFrame(fillFrame(ufmfframe.Spec{Cols: 3, Rows: 2}, 1)), ErrFrameSize)

	ragged := fillFrame(camera, 40)
	ragged.Pix[1] = []uint16{40, 40, 40}
	assert.ErrorIs(t, m.AddFrame(ragged), ErrFrameSize)
	assert.Equal(t, 0, m.FramesAdded())
}

func TestBackgroundMedian(t *testing.T) {
	camera := ufmfframe.Spec{Cols: 2, Rows: 2}
	m := NewBackgroundModel(4, 100)
	assert.False(t, m.UpdateModel())
	assert.False(t, m.Valid())

	for _, v := range []uint16{10, 200, 10, 10, 200} {
		require.NoError(t, m.AddFrame(fillFrame(camera, v)))
	}
	assert.Equal(t, uint8(3), m.Count(0, 10))
	assert.Equal(t, uint8(2), m.Count(3, 200))

	require.True(t, m.UpdateModel())
	assert.True(t, m.Valid())
	assert.Equal(t, []float32{10, 10, 10, 10}, m.Center())
	// Below the reset threshold the histograms keep accumulating.
	assert.Equal(t, 5, m.FramesAdded())
	assert.Equal(t, uint8(3), m.Count(0, 10))
}

func TestBackgroundConverges(t *testing.T) {
	camera := ufmfframe.Spec{Cols: 3, Rows: 1}
	m := NewBackgroundModel(3, 1000)
	for i := 0; i < 50; i++ {
		frame := fillFrame(camera, 80)
		if i%5 == 0 {
			frame.Pix[0][1] = 250 // passing object
		}
		require.NoError(t, m.AddFrame(frame))
	}
	require.True(t, m.UpdateModel())
	assert.Equal(t, []float32{80, 80, 80}, m.Center())

	// Long runs between resets saturate the counts.
	m = NewBackgroundModel(2, 600)
	for i := 0; i < 600; i++ {
		pix := []uint8{50, 50}
		if i%4 == 0 {
			pix[1] = 200
		}
		m.addPixels(pix)
	}
	assert.Equal(t, uint8(255), m.Count(0, 50))
	require.True(t, m.UpdateModel())
	assert.Equal(t, []float32{50, 50}, m.Center())
}

func TestBackgroundReset(t *testing.T) {
	camera := ufmfframe.Spec{Cols: 1, Rows: 1}
	m := NewBackgroundModel(1, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddFrame(fillFrame(camera, 7)))
	}
	require.True(t, m.UpdateModel())
	assert.Equal(t, 0, m.FramesAdded())
	assert.Equal(t, uint8(0), m.Count(0, 7))
	// The center survives the reset.
	assert.Equal(t, []float32{7}, m.Center())
	assert.False(t, m.UpdateModel())
}

func TestBackgroundCountsSaturate(t *testing.T) {
	m := NewBackgroundModel(1, 10000)
	for i := 0; i < 300; i++ {
		m.addPixels([]uint8{9})
	}
	assert.Equal(t, uint8(255), m.Count(0, 9))
}

func TestBounds(t *testing.T) {
	m := NewBackgroundModel(4, 100)
	copy(m.center, []float32{5, 250, 100.5, 128})

	b := newBounds(m, 10, 3, 42, 0)
	assert.Equal(t, 3, b.Generation)
	assert.Equal(t, uint64(42), b.FirstFrame)
	assert.True(t, b.hasKeyframe())
	assert.Equal(t, []uint8{0, 240, 91, 118}, b.Lower)
	assert.Equal(t, []uint8{15, 255, 110, 138}, b.Upper)

	// Later model updates don't leak into published bounds.
	m.center[0] = 99
	assert.Equal(t, float32(5), b.Center[0])

	assert.False(t, initialBounds(4).hasKeyframe())
}

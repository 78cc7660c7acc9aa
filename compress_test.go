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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

func flatBounds(n int, lower, upper uint8) ([]uint8, []uint8) {
	lo := make([]uint8, n)
	hi := make([]uint8, n)
	for i := range lo {
		lo[i] = lower
		hi[i] = upper
	}
	return lo, hi
}

func filled(n int, v uint8) []uint8 {
	pix := make([]uint8, n)
	for i := range pix {
		pix[i] = v
	}
	return pix
}

func TestCompressSinglePixel(t *testing.T) {
	cf := NewCompressedFrame(ufmfframe.Spec{Cols: 4, Rows: 4}, 3, 0.25)
	lo, hi := flatBounds(16, 100, 150)
	pix := filled(16, 120)
	pix[5] = 200

	cf.SetData(pix, 0, 1, lo, hi)
	assert.True(t, cf.Compressed)
	assert.Equal(t, 1, cf.NumForeground)
	require.Equal(t, []Box{{Col: 1, Row: 1, Width: 3, Height: 3}}, cf.Boxes)
	assert.Equal(t, 9, cf.PixelsWritten())
	assert.Equal(t, uint8(200), cf.Data[0])
	assert.Equal(t, frameChunkHeaderSize+boxHeaderSize+9, cf.ChunkSize())
}

func TestCompressNoForeground(t *testing.T) {
	cf := NewCompressedFrame(ufmfframe.Spec{Cols: 4, Rows: 4}, 3, 0.25)
	lo, hi := flatBounds(16, 100, 150)
	cf.SetData(filled(16, 100), 0, 1, lo, hi)
	assert.True(t, cf.Compressed)
	assert.Empty(t, cf.Boxes)
	assert.Empty(t, cf.Data)
}

func TestCompressFullFrameFallback(t *testing.T) {
	cf := NewCompressedFrame(ufmfframe.Spec{Cols: 4, Rows: 4}, 3, 0.25)
	lo, hi := flatBounds(16, 100, 150)
	pix := filled(16, 120)
	for i := 0; i < 5; i++ {
		pix[i*3] = 10
	}

	cf.SetData(pix, 0, 1, lo, hi)
	assert.False(t, cf.Compressed)
	assert.Equal(t, 5, cf.NumForeground)
	assert.Equal(t, []Box{{Width: 4, Height: 4}}, cf.Boxes)
	assert.Equal(t, pix, cf.Data)
	for i := range pix {
		assert.Equal(t, 1, cf.Writes(i))
	}
}

func TestCompressShrinksAroundEarlierBox(t *testing.T) {
	cf := NewCompressedFrame(ufmfframe.Spec{Cols: 6, Rows: 6}, 3, 0.25)
	lo, hi := flatBounds(36, 50, 60)
	pix := filled(36, 55)
	pix[0*6+3] = 0
	pix[1*6+1] = 0

	cf.SetData(pix, 0, 1, lo, hi)
	assert.Equal(t, []Box{
		{Col: 3, Row: 0, Width: 3, Height: 3},
		{Col: 1, Row: 1, Width: 2, Height: 3},
	}, cf.Boxes)
	assert.Equal(t, 9+6, cf.PixelsWritten())
	for i := range pix {
		assert.LessOrEqual(t, cf.Writes(i), 1)
	}
}

func TestCompressRandomFrames(t *testing.T) {
	camera := ufmfframe.Spec{Cols: 23, Rows: 17}
	n := camera.Cols * camera.Rows
	rng := rand.New(rand.NewSource(1))
	cf := NewCompressedFrame(camera, 5, 0.5)
	out := make([]uint8, n)

	for trial := 0; trial < 50; trial++ {
		lo := make([]uint8, n)
		hi := make([]uint8, n)
		pix := make([]uint8, n)
		for i := range pix {
			lo[i] = uint8(rng.Intn(100))
			hi[i] = lo[i] + uint8(rng.Intn(100))
			pix[i] = lo[i] + uint8(rng.Intn(int(hi[i]-lo[i])+1))
			if rng.Intn(20) == 0 {
				pix[i] = hi[i] + 1 + uint8(rng.Intn(50))
			}
		}

		cf.SetData(pix, 0, uint64(trial+1), lo, hi)
		area := 0
		for _, b := range cf.Boxes {
			assert.LessOrEqual(t, int(b.Width), 5)
			assert.LessOrEqual(t, int(b.Height), 5)
			area += b.Area()
		}
		require.Equal(t, area, len(cf.Data))

		cf.Reconstruct(out, nil)
		for i, v := range pix {
			require.LessOrEqual(t, cf.Writes(i), 1, "pixel %d", i)
			if v < lo[i] || v > hi[i] {
				require.Equal(t, 1, cf.Writes(i), "foreground pixel %d not stored", i)
				require.Equal(t, v, out[i])
			}
		}
	}
}

func TestReconstruct(t *testing.T) {
	cf := NewCompressedFrame(ufmfframe.Spec{Cols: 3, Rows: 2}, 2, 1)
	lo, hi := flatBounds(6, 10, 20)
	pix := []uint8{15, 15, 90, 15, 15, 15}
	cf.SetData(pix, 0, 1, lo, hi)

	out := make([]uint8, 6)
	cf.Reconstruct(out, []float32{14.6, 15, 15, 15, 15.4, 15})
	assert.Equal(t, []uint8{15, 15, 90, 15, 15, 15}, out)
	assert.Equal(t, 0.0, cf.meanAbsErrorAgainst(pix, []float32{15, 15, 15, 15, 15, 15}))
}

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
	"io"
	"math/rand"
	"time"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

// Synthetic renders a static gradient with sensor noise and a few bright
// blobs drifting across it.
type Synthetic struct {
	spec   ufmfframe.Spec
	frames int
	period time.Duration
	noise  int
	blobs  []blob
	rng    *rand.Rand
	n      int
	bg     []uint8
}

type blob struct {
	x, y, dx, dy float64
	r            int
	v            uint16
}

// NewSynthetic returns a source of n frames at fps frames per second. A
// negative n never ends.
func NewSynthetic(spec ufmfframe.Spec, n int, fps float64, seed int64) *Synthetic {
	if fps <= 0 {
		fps = 30
	}
	rng := rand.New(rand.NewSource(seed))
	s := &Synthetic{
		spec:   spec,
		frames: n,
		period: time.Duration(float64(time.Second) / fps),
		noise:  3,
		rng:    rng,
		bg:     make([]uint8, spec.Cols*spec.Rows),
	}
	for y := 0; y < spec.Rows; y++ {
		for x := 0; x < spec.Cols; x++ {
			s.bg[y*spec.Cols+x] = uint8(40 + 100*x/max(spec.Cols, 1))
		}
	}
	for i := 0; i < 3; i++ {
		s.blobs = append(s.blobs, blob{
			x:  rng.Float64() * float64(spec.Cols),
			y:  rng.Float64() * float64(spec.Rows),
			dx: rng.Float64()*4 - 2,
			dy: rng.Float64()*4 - 2,
			r:  2 + rng.Intn(4),
			v:  uint16(200 + rng.Intn(56)),
		})
	}
	return s
}

func (s *Synthetic) ResX() int { return s.spec.Cols }
func (s *Synthetic) ResY() int { return s.spec.Rows }

func (s *Synthetic) Next(frame *ufmfframe.Frame) error {
	if s.frames >= 0 && s.n >= s.frames {
		return io.EOF
	}
	cols := s.spec.Cols
	for y, row := range frame.Pix {
		for x := range row {
			v := int(s.bg[y*cols+x]) + s.rng.Intn(2*s.noise+1) - s.noise
			row[x] = uint16(min(max(v, 0), ufmfframe.MaxMono8))
		}
	}
	for i := range s.blobs {
		b := &s.blobs[i]
		s.paint(frame, b)
		b.x = wrap(b.x+b.dx, float64(cols))
		b.y = wrap(b.y+b.dy, float64(s.spec.Rows))
	}
	frame.Status.Timestamp = time.Duration(s.n) * s.period
	frame.Status.FrameCount = s.n + 1
	s.n++
	return nil
}

func (s *Synthetic) paint(frame *ufmfframe.Frame, b *blob) {
	cx, cy := int(b.x), int(b.y)
	for y := cy - b.r; y <= cy+b.r; y++ {
		if y < 0 || y >= s.spec.Rows {
			continue
		}
		for x := cx - b.r; x <= cx+b.r; x++ {
			if x < 0 || x >= s.spec.Cols {
				continue
			}
			if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= b.r*b.r {
				frame.Pix[y][x] = b.v
			}
		}
	}
}

func (s *Synthetic) Close() error { return nil }

func wrap(v, n float64) float64 {
	for v < 0 {
		v += n
	}
	for v >= n {
		v -= n
	}
	return v
}

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

// Package stats collects per-frame compression statistics from the UFMF
// writer. Sinks never influence what is written to the recording.
package stats

import (
	"sync"
	"time"
)

// FrameStats describes how a single frame was compressed and written.
type FrameStats struct {
	Number    uint64        `msgpack:"n"`
	Timestamp time.Duration `msgpack:"ts"`

	Boxes            int     `msgpack:"boxes"`
	ForegroundPixels int     `msgpack:"fg"`
	PixelsWritten    int     `msgpack:"px"`
	Bytes            int     `msgpack:"bytes"`
	Compressed       bool    `msgpack:"compressed"`
	CompressionRatio float64 `msgpack:"ratio"`
	Keyframe         bool    `msgpack:"keyframe"`

	// Pipeline occupancy when the frame was written.
	RawBuffered        int `msgpack:"raw_buffered"`
	CompressedBuffered int `msgpack:"comp_buffered"`

	// Running totals for the session.
	Written   uint64 `msgpack:"written"`
	FileBytes int64  `msgpack:"file_bytes"`

	CompressTime time.Duration `msgpack:"t_compress"`
	WriteTime    time.Duration `msgpack:"t_write"`
	Latency      time.Duration `msgpack:"t_latency"`

	// MeanAbsError is the mean absolute difference between the frame and
	// its reconstruction from the background and boxes. Only valid when
	// ErrorChecked is set.
	ErrorChecked bool    `msgpack:"err_checked"`
	MeanAbsError float64 `msgpack:"mae"`
}

// Sink receives frame statistics. Record is called from the writer's
// output goroutine only.
type Sink interface {
	Record(FrameStats)
}

// Sampled reports whether frame number n should be reported when
// sampling every `every` frames. Zero or negative disables sampling.
func Sampled(n uint64, every int) bool {
	if every <= 0 {
		return false
	}
	return n%uint64(every) == 0
}

// Nop discards all statistics.
type Nop struct{}

func (Nop) Record(FrameStats) {}

type multi []Sink

func (m multi) Record(s FrameStats) {
	for _, sink := range m {
		sink.Record(s)
	}
}

// Multi returns a Sink that forwards to each non-nil sink given.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	if len(m) == 0 {
		return Nop{}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

// Summary accumulates totals over a session.
type Summary struct {
	mu         sync.Mutex
	frames     int
	compressed int
	boxes      int
	maxBoxes   int
	ratioSum   float64
	bytes      int64
	maxLatency time.Duration
}

func (s *Summary) Record(f FrameStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if f.Compressed {
		s.compressed++
	}
	s.boxes += f.Boxes
	if f.Boxes > s.maxBoxes {
		s.maxBoxes = f.Boxes
	}
	s.ratioSum += f.CompressionRatio
	s.bytes += int64(f.Bytes)
	if f.Latency > s.maxLatency {
		s.maxLatency = f.Latency
	}
}

// SummaryReport is a snapshot of a Summary.
type SummaryReport struct {
	Frames     int
	Compressed int
	MeanBoxes  float64
	MaxBoxes   int
	MeanRatio  float64
	Bytes      int64
	MaxLatency time.Duration
}

// Report returns the totals recorded so far.
func (s *Summary) Report() SummaryReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := SummaryReport{
		Frames:     s.frames,
		Compressed: s.compressed,
		MaxBoxes:   s.maxBoxes,
		Bytes:      s.bytes,
		MaxLatency: s.maxLatency,
	}
	if s.frames > 0 {
		r.MeanBoxes = float64(s.boxes) / float64(s.frames)
		r.MeanRatio = s.ratioSum / float64(s.frames)
	}
	return r
}

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

	"github.com/spf13/afero"

	"github.com/TheCacophonyProject/go-ufmf/stats"
	"github.com/TheCacophonyProject/go-ufmf/ufmflog"
)

// Logger is the logging collaborator used by the writer. *ufmflog.Logger
// satisfies it.
type Logger interface {
	Logf(level ufmflog.Level, format string, args ...interface{})
}

// Options configures a Writer.
type Options struct {
	// Fs is the file system the recording is written to. Defaults to
	// the OS file system.
	Fs afero.Fs
	// Log receives diagnostics. Defaults to a no-op logger.
	Log Logger
	// Stats receives sampled per-frame statistics. Optional.
	Stats stats.Sink

	// Buffers is the number of raw and compressed frame slots.
	Buffers int
	// Threads is the number of compression workers.
	Threads int

	// BackgroundInitFrames frames at the start of a recording are always
	// added to the background model.
	BackgroundInitFrames int
	// BackgroundUpdatePeriod is the minimum capture time between frames
	// added to the background model after the initial frames.
	BackgroundUpdatePeriod time.Duration
	// KeyFramePeriod is the capture time between background keyframes.
	KeyFramePeriod time.Duration
	// KeyFramePeriodInit overrides KeyFramePeriod for the first keyframes
	// while the background model ramps up: entry i is the period after
	// keyframe i+1.
	KeyFramePeriodInit []time.Duration
	// BackSubThreshold is the distance from the background median beyond
	// which a pixel is foreground.
	BackSubThreshold float64
	// ResetThreshold is the number of frames added to the background
	// model after which its histograms are cleared. Zero derives it from
	// KeyFramePeriod / BackgroundUpdatePeriod.
	ResetThreshold int

	// MaxBoxLength is the maximum side length of a foreground box.
	MaxBoxLength int
	// MaxForegroundFraction is the largest fraction of foreground pixels
	// for which a frame is compressed. Frames above it are stored whole.
	MaxForegroundFraction float64

	// StatsFrequency reports every nth frame to Stats.
	StatsFrequency int
	// ErrorCheckFrequency computes the reconstruction error of every nth
	// frame. Zero disables it.
	ErrorCheckFrequency int

	// MaxWait bounds every wait for work the pipeline is owed.
	MaxWait time.Duration

	// Session identifies recordings in logs and statistics. A random
	// UUID is used for each session when empty.
	Session string

	// Archive writes a zstd compressed copy of the finished recording
	// next to it.
	Archive bool
}

// DefaultOptions returns the defaults used by the recording rigs.
func DefaultOptions() Options {
	return Options{
		Buffers:                10,
		Threads:                4,
		BackgroundInitFrames:   100,
		BackgroundUpdatePeriod: time.Second,
		KeyFramePeriod:         100 * time.Second,
		BackSubThreshold:       10,
		MaxBoxLength:           30,
		MaxForegroundFraction:  0.25,
		StatsFrequency:         1,
		ErrorCheckFrequency:    1,
		MaxWait:                10 * time.Second,
	}
}

// Validate checks the options and fills in derived values.
func (o *Options) Validate() error {
	if o.Threads < 1 {
		return fmt.Errorf("ufmf: need at least one compression thread, got %d", o.Threads)
	}
	if o.Buffers < o.Threads {
		o.Buffers = o.Threads
	}
	if o.MaxBoxLength < 1 || o.MaxBoxLength > math.MaxUint16 {
		return fmt.Errorf("ufmf: invalid box length %d", o.MaxBoxLength)
	}
	if o.MaxForegroundFraction < 0 || o.MaxForegroundFraction > 1 {
		return fmt.Errorf("ufmf: foreground fraction %v not in [0, 1]", o.MaxForegroundFraction)
	}
	if o.BackSubThreshold < 0 {
		return fmt.Errorf("ufmf: negative background threshold %v", o.BackSubThreshold)
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultOptions().MaxWait
	}
	if o.ResetThreshold <= 0 {
		o.ResetThreshold = 1
		if o.BackgroundUpdatePeriod > 0 {
			if n := int(o.KeyFramePeriod / o.BackgroundUpdatePeriod); n > 1 {
				o.ResetThreshold = n
			}
		}
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Log == nil {
		o.Log = ufmflog.Nop()
	}
	if o.Stats == nil {
		o.Stats = stats.Nop{}
	}
	return nil
}

// keyFramePeriod returns the period that applies after n keyframes.
func (o *Options) keyFramePeriod(n int) time.Duration {
	if n > 0 && n <= len(o.KeyFramePeriodInit) {
		return o.KeyFramePeriodInit[n-1]
	}
	return o.KeyFramePeriod
}

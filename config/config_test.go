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

package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ufmf "github.com/TheCacophonyProject/go-ufmf"
	"github.com/TheCacophonyProject/go-ufmf/ufmflog"
)

type warnings []string

func (w *warnings) Logf(level ufmflog.Level, format string, args ...interface{}) {
	if level == ufmflog.Warning {
		*w = append(*w, fmt.Sprintf(format, args...))
	}
}

const sample = `
output: /var/spool/rec.ufmf
width: 640
height: 480
n_buffers: 20
n_threads: 6
bg_init_frames: 50
bg_update_period: 0.5
bg_keyframe_period: 2m
bg_keyframe_period_init: [1, 5, 30s]
back_sub_thresh: 12.5
max_box_length: 16
max_frac_fg_compress: 0.3
stat_stream_print_freq: 100
stat_compute_frame_error_freq: 0
max_wait: 3
stats_file: rec.stats
archive: true
log_level: debug
log_buffered: true
`

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "ufmf.yaml", []byte(sample), 0644))

	var warn warnings
	c, err := Load(fs, "ufmf.yaml", &warn)
	require.NoError(t, err)
	assert.Empty(t, warn)

	assert.Equal(t, "/var/spool/rec.ufmf", c.Output)
	assert.Equal(t, 640, c.Camera().ResX())
	assert.Equal(t, 480, c.Camera().ResY())
	assert.Equal(t, "rec.stats", c.StatsFile)
	assert.Equal(t, ufmflog.Debug, c.LogLevel)
	assert.True(t, c.LogBuffered)

	o := c.Options
	assert.Equal(t, 20, o.Buffers)
	assert.Equal(t, 6, o.Threads)
	assert.Equal(t, 50, o.BackgroundInitFrames)
	assert.Equal(t, 500*time.Millisecond, o.BackgroundUpdatePeriod)
	assert.Equal(t, 2*time.Minute, o.KeyFramePeriod)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, o.KeyFramePeriodInit)
	assert.Equal(t, 12.5, o.BackSubThreshold)
	assert.Equal(t, 16, o.MaxBoxLength)
	assert.Equal(t, 0.3, o.MaxForegroundFraction)
	assert.Equal(t, 100, o.StatsFrequency)
	assert.Equal(t, 0, o.ErrorCheckFrequency)
	assert.Equal(t, 3*time.Second, o.MaxWait)
	assert.True(t, o.Archive)

	require.NoError(t, o.Validate())
	assert.Equal(t, 240, o.ResetThreshold)
}

func TestBadKeysAreIgnored(t *testing.T) {
	var warn warnings
	c, err := Parse([]byte("n_threads: lots\nframe_rate: 30\nmax_box_length: -4\nlog_level: chatty\n"), &warn)
	require.NoError(t, err)
	assert.Len(t, warn, 4)

	def := ufmf.DefaultOptions()
	assert.Equal(t, def.Threads, c.Options.Threads)
	assert.Equal(t, def.MaxBoxLength, c.Options.MaxBoxLength)
	assert.Equal(t, ufmflog.Info, c.LogLevel)
}

func TestEmpty(t *testing.T) {
	c, err := Parse(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestNotAMapping(t *testing.T) {
	_, err := Parse([]byte("- a\n- b\n"), nil)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "nope.yaml", nil)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Contains(t, Keys(), "bg_keyframe_period_init")
	assert.Len(t, Keys(), 20)
}

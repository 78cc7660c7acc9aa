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

package main

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ufmf "github.com/TheCacophonyProject/go-ufmf"
	"github.com/TheCacophonyProject/go-ufmf/source"
	"github.com/TheCacophonyProject/go-ufmf/stats"
	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

func TestRecordAndInfo(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "rec.yaml", []byte(`
output: out.ufmf
width: 32
height: 24
n_threads: 2
n_buffers: 4
stats_file: out.stats
archive: true
log_level: error
`), 0644))

	require.NoError(t, runRecord(fs, &RecordCmd{Config: "rec.yaml", Frames: 20, FPS: 10, Seed: 4}))

	hdr, recs, err := stats.ReadFile(fs, "out.stats")
	require.NoError(t, err)
	assert.Equal(t, "out.ufmf", hdr.Output)
	assert.NotEmpty(t, hdr.Session)
	assert.Len(t, recs, 20)

	var out bytes.Buffer
	require.NoError(t, runInfo(fs, &out, &InfoCmd{Filename: "out.ufmf", Frames: true}))
	assert.Contains(t, out.String(), "Resolution:   32x24")
	assert.Contains(t, out.String(), "Frames:       20")
	assert.Contains(t, out.String(), "frame 19:")

	out.Reset()
	require.NoError(t, runInfo(fs, &out, &InfoCmd{Filename: "out.ufmf" + ufmf.ArchiveExt}))
	assert.Contains(t, out.String(), "Frames:       20")
}

func TestRecordFromFMF(t *testing.T) {
	fs := afero.NewMemMapFs()
	spec := ufmfframe.Spec{Cols: 16, Rows: 16}
	fw, err := source.CreateFMF(fs, "in.fmf", spec)
	require.NoError(t, err)
	syn := source.NewSynthetic(spec, 8, 30, 9)
	frame := ufmfframe.NewFrame(spec)
	for syn.Next(frame) == nil {
		require.NoError(t, fw.Write(frame))
	}
	require.NoError(t, fw.Close())

	require.NoError(t, runRecord(fs, &RecordCmd{Input: "in.fmf", Output: "conv.ufmf"}))

	f, err := fs.Open("conv.ufmf")
	require.NoError(t, err)
	defer f.Close()
	r, err := ufmf.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, 8, r.NumFrames())
	assert.Equal(t, 16, r.ResX())
}

// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package ufmfframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestCamera struct {
}

func (cam *TestCamera) ResX() int {
	return 16
}
func (cam *TestCamera) ResY() int {
	return 12
}

func TestFrameCopy(t *testing.T) {
	camera := new(TestCamera)
	frame := NewFrame(camera)
	frame.Pix[0][0] = 1
	frame.Pix[9][7] = 2
	frame.Pix[camera.ResY()-1][0] = 3
	frame.Pix[0][camera.ResX()-1] = 4
	frame.Pix[camera.ResY()-1][camera.ResX()-1] = 5
	frame.Status.Timestamp = 10 * time.Second
	frame.Status.FrameCount = 123

	frame2 := NewFrame(camera)
	frame2.Copy(frame)

	assert.Equal(t, 1, int(frame2.Pix[0][0]))
	assert.Equal(t, 2, int(frame2.Pix[9][7]))
	assert.Equal(t, 3, int(frame2.Pix[camera.ResY()-1][0]))
	assert.Equal(t, 4, int(frame2.Pix[0][camera.ResX()-1]))
	assert.Equal(t, 5, int(frame2.Pix[camera.ResY()-1][camera.ResX()-1]))
	assert.Equal(t, frame.Status, frame2.Status)
	assert.Equal(t, camera.ResX(), frame2.ResX())
	assert.Equal(t, camera.ResY(), frame2.ResY())
}

func TestFrameCheckRange(t *testing.T) {
	frame := NewFrame(Spec{Cols: 4, Rows: 4})
	require.NoError(t, frame.CheckRange(MaxMono8))

	frame.Pix[1][1] = 300
	assert.Error(t, frame.CheckRange(MaxMono8))
	assert.NoError(t, frame.CheckRange(1023))
}

func TestFrameCheckSize(t *testing.T) {
	frame := NewFrame(Spec{Cols: 4, Rows: 3})
	require.NoError(t, frame.CheckSize(4, 3))
	assert.Error(t, frame.CheckSize(4, 4))
	assert.Error(t, frame.CheckSize(3, 3))

	frame.Pix[2] = make([]uint16, 5)
	assert.Error(t, frame.CheckSize(4, 3))
}

func TestFlattenFill(t *testing.T) {
	frame := NewFrame(Spec{Cols: 3, Rows: 2})
	frame.Fill([]uint8{1, 2, 3, 4, 5, 6})
	assert.Equal(t, [][]uint16{{1, 2, 3}, {4, 5, 6}}, frame.Pix)

	out := make([]uint8, 6)
	frame.Flatten(out)
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, out)
}

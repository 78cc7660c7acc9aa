// Copyright 2020 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package ufmfframe

// CameraSpec describes the geometry of the frames a camera produces.
type CameraSpec interface {
	ResX() int
	ResY() int
}

// Spec is a fixed size CameraSpec, handy when the frame size comes from
// a configuration file rather than a camera.
type Spec struct {
	Cols, Rows int
}

func (s Spec) ResX() int { return s.Cols }
func (s Spec) ResY() int { return s.Rows }

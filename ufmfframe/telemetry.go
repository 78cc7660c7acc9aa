// Copyright 2020 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package ufmfframe

import "time"

// Telemetry holds the capture metadata delivered with a frame.
type Telemetry struct {
	// Timestamp is the capture time on the camera's monotonic clock.
	Timestamp time.Duration
	// FrameCount is the sensor side frame counter. It is informative
	// only; recording frame numbers are assigned by the writer.
	FrameCount int
}

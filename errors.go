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

import "errors"

var (
	// ErrTimeout is returned when a pipeline stage waits longer than
	// Options.MaxWait for work it is owed. It is fatal to the session.
	ErrTimeout = errors.New("ufmf: timed out waiting for pipeline")

	// ErrPixelRange rejects a frame containing values outside the
	// modelled intensity range. The session continues.
	ErrPixelRange = errors.New("ufmf: pixel value out of range")

	// ErrFrameSize rejects a frame whose dimensions differ from the
	// recording's.
	ErrFrameSize = errors.New("ufmf: frame size mismatch")

	// ErrNotWriting is returned by AddFrame outside of a session.
	ErrNotWriting = errors.New("ufmf: writer is not recording")

	// ErrAborted is returned when the pipeline has been shut down by a
	// hard stop or an earlier fatal error.
	ErrAborted = errors.New("ufmf: pipeline aborted")

	// ErrBadFormat is returned by the Reader for malformed files.
	ErrBadFormat = errors.New("ufmf: malformed file")
)

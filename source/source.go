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

// Package source provides raw frames to record: a synthetic scene for
// testing and benchmarking, and uncompressed FMF files for conversion.
package source

import (
	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
)

// Source delivers frames in capture order. Next returns io.EOF after the
// last frame.
type Source interface {
	ufmfframe.CameraSpec
	Next(frame *ufmfframe.Frame) error
	Close() error
}

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

package stats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
)

// FileHeader is the first record of a statistics file.
type FileHeader struct {
	Session string    `msgpack:"session"`
	Output  string    `msgpack:"output"`
	Created time.Time `msgpack:"created"`
}

// File streams FrameStats records to a msgpack encoded file.
type File struct {
	mu  sync.Mutex
	f   afero.File
	w   *bufio.Writer
	enc *msgpack.Encoder
	err error
}

// CreateFile creates a statistics file at path and writes its header.
func CreateFile(fs afero.Fs, path string, header FileHeader) (*File, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	sf := &File{
		f:   f,
		w:   w,
		enc: msgpack.NewEncoder(w),
	}
	if header.Created.IsZero() {
		header.Created = time.Now()
	}
	if err := sf.enc.Encode(&header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing stats header: %w", err)
	}
	return sf, nil
}

// Record appends s to the file. Encoding errors are kept and returned
// by Close; later records are dropped.
func (sf *File) Record(s FrameStats) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.err != nil {
		return
	}
	sf.err = sf.enc.Encode(&s)
}

// Close flushes and closes the file.
func (sf *File) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	err := sf.err
	if ferr := sf.w.Flush(); err == nil {
		err = ferr
	}
	if cerr := sf.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadFile decodes a statistics file written by File.
func ReadFile(fs afero.Fs, path string) (FileHeader, []FrameStats, error) {
	var header FileHeader
	f, err := fs.Open(path)
	if err != nil {
		return header, nil, err
	}
	defer f.Close()

	dec := msgpack.NewDecoder(bufio.NewReader(f))
	if err := dec.Decode(&header); err != nil {
		return header, nil, fmt.Errorf("reading stats header: %w", err)
	}
	var records []FrameStats
	for {
		var s FrameStats
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return header, records, err
		}
		records = append(records, s)
	}
	return header, records, nil
}

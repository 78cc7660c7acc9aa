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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
	"github.com/TheCacophonyProject/go-ufmf/ufmflog"
)

const fileBufferSize = 1 << 20

// Writer compresses frames against a running background model and writes
// them to a UFMF file. Frames are added by a single producer; compression
// runs on Options.Threads workers and a single goroutine writes the file in
// frame order.
type Writer struct {
	filename   string
	opts       Options
	log        Logger
	cols, rows int

	session string
	file    afero.File
	bw      *bufio.Writer
	bldr    *Builder
	index   Index // owned by the output goroutine while recording

	// Producer state, guarded by prodMu.
	prodMu sync.Mutex
	bg     *BackgroundModel
	sched  schedule
	bounds atomic.Pointer[Bounds]

	raw     []*rawSlot
	packs   []*CompressedFrame
	workers []*worker

	rawFree    chan *rawSlot
	rawFilled  chan *rawSlot
	packFree   chan *CompressedFrame
	packFilled chan *CompressedFrame
	idle       chan *worker

	abort          chan struct{}
	abortOnce      *sync.Once
	dispatcherDone chan struct{}
	writerDone     chan struct{}
	workersDone    sync.WaitGroup

	mu sync.Mutex
	st pipelineState

	// compressHook runs on the worker before each frame is compressed.
	compressHook func(number uint64)
}

type pipelineState struct {
	writing            bool
	grabbed            uint64
	written            uint64
	keyFrames          int
	rawBuffered        int
	compressedBuffered int
	err                error
}

// schedule tracks when frames go into the background model and when the
// model is turned into a new keyframe.
type schedule struct {
	added         bool
	lastAdded     time.Duration
	sinceKeyFrame bool
	keyFrames     int
	lastKeyFrame  time.Duration
}

// NewWriter prepares a writer for frames from camera c. Nothing is created
// on disk until Start.
func NewWriter(filename string, c ufmfframe.CameraSpec, opts Options) (*Writer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cols, rows := c.ResX(), c.ResY()
	if cols <= 0 || rows <= 0 || cols > 0xffff || rows > 0xffff {
		return nil, fmt.Errorf("%w: unsupported resolution %dx%d", ErrFrameSize, cols, rows)
	}
	w := &Writer{
		filename: filename,
		opts:     opts,
		log:      opts.Log,
		cols:     cols,
		rows:     rows,
	}
	nPixels := cols * rows
	for i := 0; i < opts.Buffers; i++ {
		w.raw = append(w.raw, &rawSlot{id: i, pix: make([]uint8, nPixels)})
		cf := NewCompressedFrame(c, opts.MaxBoxLength, opts.MaxForegroundFraction)
		cf.id = i
		w.packs = append(w.packs, cf)
	}
	for i := 0; i < opts.Threads; i++ {
		w.workers = append(w.workers, &worker{id: i})
	}
	return w, nil
}

// Start creates the output file, writes its header and starts the
// pipeline. Every session starts with an empty background model.
func (w *Writer) Start() error {
	w.mu.Lock()
	writing := w.st.writing
	w.mu.Unlock()
	if writing {
		return fmt.Errorf("ufmf: already recording to %s", w.filename)
	}

	file, err := w.opts.Fs.Create(w.filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", w.filename, err)
	}
	w.file = file
	w.bw = bufio.NewWriterSize(file, fileBufferSize)
	w.bldr = NewBuilder(w.bw)
	if err := w.bldr.WriteHeader(w.cols, w.rows); err != nil {
		file.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	w.index.Reset()
	w.session = w.opts.Session
	if w.session == "" {
		w.session = uuid.NewString()
	}

	w.prodMu.Lock()
	w.bg = NewBackgroundModel(w.cols*w.rows, w.opts.ResetThreshold)
	w.sched = schedule{}
	w.bounds.Store(initialBounds(w.cols * w.rows))
	w.prodMu.Unlock()

	n := len(w.raw)
	w.rawFree = make(chan *rawSlot, n)
	w.rawFilled = make(chan *rawSlot, n)
	w.packFree = make(chan *CompressedFrame, n)
	w.packFilled = make(chan *CompressedFrame, n)
	w.idle = make(chan *worker, len(w.workers))
	for i := range w.raw {
		w.raw[i].state = slotFree
		w.rawFree <- w.raw[i]
		w.packs[i].state = slotFree
		w.packFree <- w.packs[i]
	}
	w.abort = make(chan struct{})
	w.abortOnce = new(sync.Once)
	w.dispatcherDone = make(chan struct{})
	w.writerDone = make(chan struct{})

	w.mu.Lock()
	w.st = pipelineState{writing: true}
	w.mu.Unlock()

	for _, wk := range w.workers {
		wk.start = make(chan job, 1)
		w.idle <- wk
		w.workersDone.Add(1)
		go w.compressLoop(wk)
	}
	go func(done *sync.WaitGroup, filled chan *CompressedFrame) {
		done.Wait()
		close(filled)
	}(&w.workersDone, w.packFilled)
	go w.dispatch()
	go w.output()

	w.log.Logf(ufmflog.Info, "recording %s to %s: %dx%d, %d buffers, %d threads",
		w.session, w.filename, w.cols, w.rows, len(w.raw), len(w.workers))
	return nil
}

// AddFrame queues a frame for compression. Frames must be added in capture
// order by one goroutine. Frames with out of range values are rejected
// without ending the session.
func (w *Writer) AddFrame(frame *ufmfframe.Frame) error {
	w.prodMu.Lock()
	defer w.prodMu.Unlock()

	w.mu.Lock()
	writing, err := w.st.writing, w.st.err
	w.mu.Unlock()
	if !writing {
		return ErrNotWriting
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if err := frame.CheckSize(w.cols, w.rows); err != nil {
		return fmt.Errorf("%w: %v, recording %dx%d", ErrFrameSize, err, w.cols, w.rows)
	}
	if err := frame.CheckRange(ufmfframe.MaxMono8); err != nil {
		w.log.Logf(ufmflog.Warning, "dropping frame: %v", err)
		return fmt.Errorf("%w: %v", ErrPixelRange, err)
	}

	slot, err := w.acquireRaw()
	if err != nil {
		w.fail(err)
		return err
	}
	slot.state = slotWriteLocked
	frame.Flatten(slot.pix)

	w.mu.Lock()
	w.st.grabbed++
	w.st.rawBuffered++
	number := w.st.grabbed
	w.mu.Unlock()

	slot.number = number
	slot.ts = frame.Status.Timestamp
	slot.added = time.Now()
	w.updateBackground(slot.pix, slot.ts, number)
	slot.bounds = w.bounds.Load()
	slot.state = slotReadyForCompress
	w.rawFilled <- slot
	return nil
}

// updateBackground adds the frame to the background model when it is due
// and publishes new bounds when a keyframe is due. Frames from number
// onwards are compressed against the new bounds.
func (w *Writer) updateBackground(pix []uint8, ts time.Duration, number uint64) {
	s := &w.sched
	if !s.added || number <= uint64(w.opts.BackgroundInitFrames) || ts-s.lastAdded >= w.opts.BackgroundUpdatePeriod {
		w.bg.addPixels(pix)
		s.added = true
		s.lastAdded = ts
		s.sinceKeyFrame = true
	}
	if !s.sinceKeyFrame {
		return
	}
	if s.keyFrames > 0 && ts-s.lastKeyFrame < w.opts.keyFramePeriod(s.keyFrames) {
		return
	}
	w.bg.UpdateModel()
	s.keyFrames++
	s.lastKeyFrame = ts
	s.sinceKeyFrame = false

	b := newBounds(w.bg, w.opts.BackSubThreshold, w.bounds.Load().Generation+1, number, ts)
	w.bounds.Store(b)
	w.log.Logf(ufmflog.Debug, "background generation %d from frame %d", b.Generation, number)
}

// Stop finishes the session: frames already added are compressed and
// written, then the index is appended and the file closed. It returns the
// number of frames written.
func (w *Writer) Stop() (uint64, error) {
	return w.stop(true)
}

// Abort ends the session without waiting for buffered frames. The frames
// already written are indexed and the file is closed.
func (w *Writer) Abort() (uint64, error) {
	return w.stop(false)
}

func (w *Writer) stop(drain bool) (uint64, error) {
	w.mu.Lock()
	if !w.st.writing {
		w.mu.Unlock()
		return 0, ErrNotWriting
	}
	w.st.writing = false
	w.mu.Unlock()

	if !drain {
		w.log.Logf(ufmflog.Warning, "aborting recording %s", w.session)
		w.abortOnce.Do(func() { close(w.abort) })
	}

	w.prodMu.Lock()
	close(w.rawFilled)
	w.prodMu.Unlock()

	<-w.dispatcherDone
	w.workersDone.Wait()
	<-w.writerDone

	w.mu.Lock()
	err := w.st.err
	written := w.st.written
	keyFrames := w.st.keyFrames
	dropped := w.st.grabbed - w.st.written
	w.st.rawBuffered = 0
	w.st.compressedBuffered = 0
	w.mu.Unlock()

	if ferr := w.finish(); ferr != nil {
		w.log.Logf(ufmflog.Error, "finishing %s: %v", w.filename, ferr)
		if err == nil {
			err = ferr
		}
	}
	if err == nil && w.opts.Archive {
		if aerr := CompressFile(w.opts.Fs, w.filename, w.filename+ArchiveExt); aerr != nil {
			w.log.Logf(ufmflog.Error, "archiving %s: %v", w.filename, aerr)
			err = aerr
		}
	}
	w.log.Logf(ufmflog.Info, "recording %s stopped: %d frames, %d keyframes written, %d dropped",
		w.session, written, keyFrames, dropped)
	return written, err
}

// finish writes the index, points the header at it and closes the file.
// Every step is attempted; the first error is returned.
func (w *Writer) finish() error {
	defer w.index.Reset()
	var firstErr error
	keep := func(err error) {
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}

	off, err := w.bldr.WriteIndex(&w.index)
	keep(err)
	keep(w.bw.Flush())
	if err == nil {
		if _, serr := w.file.Seek(indexPtrOffset, io.SeekStart); serr != nil {
			keep(serr)
		} else {
			keep(binary.Write(w.file, binary.LittleEndian, uint64(off)))
		}
	}
	keep(w.file.Close())
	return firstErr
}

// NumWritten is the number of frames written so far in the current or
// last session.
func (w *Writer) NumWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.written
}

// NumKeyFrames is the number of background keyframes written.
func (w *Writer) NumKeyFrames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.keyFrames
}

// Buffered reports how many frames are waiting to be compressed and
// waiting to be written.
func (w *Writer) Buffered() (raw, compressed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.rawBuffered, w.st.compressedBuffered
}

// Writing reports whether a session is in progress.
func (w *Writer) Writing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.writing
}

// Session identifies the current or last recording session.
func (w *Writer) Session() string {
	return w.session
}

// Filename is the path of the recording.
func (w *Writer) Filename() string {
	return w.filename
}

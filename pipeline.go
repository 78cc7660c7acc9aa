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
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/go-ufmf/stats"
	"github.com/TheCacophonyProject/go-ufmf/ufmflog"
)

// slotState records which stage owns a raw or compressed slot.
type slotState int

const (
	slotFree slotState = iota
	slotWriteLocked
	slotReadyForCompress
	slotCompressLocked
	slotReadyForWrite
)

func (s slotState) String() string {
	switch s {
	case slotFree:
		return "free"
	case slotWriteLocked:
		return "write-locked"
	case slotReadyForCompress:
		return "ready-for-compress"
	case slotCompressLocked:
		return "compress-locked"
	case slotReadyForWrite:
		return "ready-for-write"
	}
	return fmt.Sprintf("slotState(%d)", int(s))
}

// rawSlot holds one captured frame until a worker has compressed it.
type rawSlot struct {
	id     int
	state  slotState
	pix    []uint8
	number uint64
	ts     time.Duration
	bounds *Bounds
	added  time.Time
}

type job struct {
	raw  *rawSlot
	pack *CompressedFrame
}

type worker struct {
	id    int
	start chan job
}

// errDrained ends the output loop once every compressed frame is written.
var errDrained = errors.New("pipeline drained")

// acquireRaw takes a free raw slot for the producer. A frame is waiting on
// it, so the wait is bounded.
func (w *Writer) acquireRaw() (*rawSlot, error) {
	select {
	case s := <-w.rawFree:
		return s, nil
	default:
	}
	w.log.Logf(ufmflog.Debug, "all %d raw buffers in use, waiting", len(w.raw))
	t := time.NewTimer(w.opts.MaxWait)
	defer t.Stop()
	select {
	case s := <-w.rawFree:
		return s, nil
	case <-t.C:
		return nil, fmt.Errorf("%w: no free raw buffer after %v", ErrTimeout, w.opts.MaxWait)
	case <-w.abort:
		return nil, w.abortErr()
	}
}

// dispatch hands captured frames to idle workers in frame order. Compressed
// slots are claimed in the same order, so the frame the output loop is
// waiting for always gets one.
func (w *Writer) dispatch() {
	defer close(w.dispatcherDone)
	defer func() {
		for _, wk := range w.workers {
			close(wk.start)
		}
	}()
	for {
		var raw *rawSlot
		select {
		case s, ok := <-w.rawFilled:
			if !ok {
				return
			}
			raw = s
		case <-w.abort:
			return
		}

		pack, err := w.acquirePack(raw.number)
		if err != nil {
			w.fail(err)
			return
		}
		wk, err := w.acquireWorker(raw.number)
		if err != nil {
			w.fail(err)
			return
		}
		raw.state = slotCompressLocked
		pack.state = slotCompressLocked
		w.log.Logf(ufmflog.Trace, "frame %d: raw slot %d, compressed slot %d, worker %d", raw.number, raw.id, pack.id, wk.id)
		wk.start <- job{raw: raw, pack: pack}
	}
}

func (w *Writer) acquirePack(number uint64) (*CompressedFrame, error) {
	t := time.NewTimer(w.opts.MaxWait)
	defer t.Stop()
	select {
	case cf := <-w.packFree:
		return cf, nil
	case <-t.C:
		return nil, fmt.Errorf("%w: no free compressed buffer for frame %d after %v", ErrTimeout, number, w.opts.MaxWait)
	case <-w.abort:
		return nil, w.abortErr()
	}
}

func (w *Writer) acquireWorker(number uint64) (*worker, error) {
	t := time.NewTimer(w.opts.MaxWait)
	defer t.Stop()
	select {
	case wk := <-w.idle:
		return wk, nil
	case <-t.C:
		return nil, fmt.Errorf("%w: no idle worker for frame %d after %v", ErrTimeout, number, w.opts.MaxWait)
	case <-w.abort:
		return nil, w.abortErr()
	}
}

func (w *Writer) compressLoop(wk *worker) {
	defer w.workersDone.Done()
	for {
		var j job
		select {
		case next, ok := <-wk.start:
			if !ok {
				return
			}
			j = next
		case <-w.abort:
			return
		}

		w.compress(j)

		select {
		case w.packFilled <- j.pack:
		case <-w.abort:
			return
		}
		w.idle <- wk
	}
}

func (w *Writer) compress(j job) {
	raw, cf := j.raw, j.pack
	if w.compressHook != nil {
		w.compressHook(raw.number)
	}

	start := time.Now()
	cf.SetData(raw.pix, raw.ts, raw.number, raw.bounds.Lower, raw.bounds.Upper)
	cf.compressTime = time.Since(start)
	cf.bounds = raw.bounds
	cf.added = raw.added

	cf.errChecked = stats.Sampled(raw.number, w.opts.ErrorCheckFrequency) && raw.bounds.hasKeyframe()
	if cf.errChecked {
		cf.meanAbsError = cf.meanAbsErrorAgainst(raw.pix, raw.bounds.Center)
	}
	cf.state = slotReadyForWrite

	w.mu.Lock()
	w.st.rawBuffered--
	w.st.compressedBuffered++
	w.mu.Unlock()

	raw.state = slotFree
	raw.bounds = nil
	w.rawFree <- raw
}

// output writes compressed frames to the file in strictly increasing frame
// order, whatever order the workers finish them in.
func (w *Writer) output() {
	defer close(w.writerDone)
	var pending []*CompressedFrame
	for next := uint64(1); ; next++ {
		cf, err := w.nextFrame(next, &pending)
		if err == errDrained {
			return
		}
		if err != nil {
			w.fail(err)
			return
		}
		if err := w.writeCompressed(cf); err != nil {
			w.fail(err)
			return
		}
	}
}

// nextFrame returns frame number next, parking any later frames that
// arrive first. Waiting only times out once next has been captured. Until
// then the timer polls at a tenth of MaxWait, so the timeout runs from
// within that tick of the capture.
func (w *Writer) nextFrame(next uint64, pending *[]*CompressedFrame) (*CompressedFrame, error) {
	for i, cf := range *pending {
		if cf.Number == next {
			*pending = append((*pending)[:i], (*pending)[i+1:]...)
			return cf, nil
		}
	}

	wait := w.opts.MaxWait
	poll := max(wait/10, time.Millisecond)
	var owedSince time.Time
	t := time.NewTimer(poll)
	defer t.Stop()
	for {
		if owedSince.IsZero() && w.captured(next) {
			owedSince = time.Now()
		}
		select {
		case cf, ok := <-w.packFilled:
			if !ok {
				select {
				case <-w.abort:
					return nil, errDrained
				default:
				}
				if len(*pending) > 0 {
					return nil, fmt.Errorf("frame %d never compressed, %d later frames stranded", next, len(*pending))
				}
				return nil, errDrained
			}
			if cf.Number == next {
				return cf, nil
			}
			w.log.Logf(ufmflog.Trace, "frame %d compressed before frame %d", cf.Number, next)
			*pending = append(*pending, cf)
		case <-t.C:
			if owedSince.IsZero() {
				t.Reset(poll)
				continue
			}
			waited := time.Since(owedSince)
			if waited >= wait {
				return nil, fmt.Errorf("%w: frame %d not compressed after %v", ErrTimeout, next, wait)
			}
			t.Reset(wait - waited)
		case <-w.abort:
			return nil, errDrained
		}
	}
}

func (w *Writer) captured(number uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return number <= w.st.grabbed
}

func (w *Writer) writeCompressed(cf *CompressedFrame) error {
	start := time.Now()
	keyframe := false
	if b := cf.bounds; b.FirstFrame == cf.Number && b.hasKeyframe() {
		off, err := w.bldr.WriteKeyFrame(w.cols, w.rows, b.Timestamp, b.Center)
		if err != nil {
			return fmt.Errorf("writing keyframe %d: %w", b.Generation, err)
		}
		w.index.KeyFrames = append(w.index.KeyFrames, IndexEntry{Offset: off, Timestamp: b.Timestamp})
		keyframe = true
		w.log.Logf(ufmflog.Debug, "keyframe %d written before frame %d", b.Generation, cf.Number)
	}

	off, err := w.bldr.WriteFrame(cf)
	if err != nil {
		return fmt.Errorf("writing frame %d: %w", cf.Number, err)
	}
	w.index.Frames = append(w.index.Frames, IndexEntry{Offset: off, Timestamp: cf.Timestamp})
	writeTime := time.Since(start)

	w.mu.Lock()
	w.st.written++
	w.st.compressedBuffered--
	if keyframe {
		w.st.keyFrames++
	}
	s := stats.FrameStats{
		Number:             cf.Number,
		Timestamp:          cf.Timestamp,
		Boxes:              cf.NumBoxes(),
		ForegroundPixels:   cf.NumForeground,
		PixelsWritten:      cf.PixelsWritten(),
		Bytes:              cf.ChunkSize(),
		Compressed:         cf.Compressed,
		CompressionRatio:   float64(w.cols*w.rows) / float64(cf.ChunkSize()),
		Keyframe:           keyframe,
		RawBuffered:        w.st.rawBuffered,
		CompressedBuffered: w.st.compressedBuffered,
		Written:            w.st.written,
		FileBytes:          w.bldr.Offset(),
		CompressTime:       cf.compressTime,
		WriteTime:          writeTime,
		Latency:            time.Since(cf.added),
		ErrorChecked:       cf.errChecked,
		MeanAbsError:       cf.meanAbsError,
	}
	w.mu.Unlock()

	if stats.Sampled(cf.Number, w.opts.StatsFrequency) {
		w.opts.Stats.Record(s)
	}

	cf.state = slotFree
	cf.bounds = nil
	w.packFree <- cf
	return nil
}

// fail records the first fatal error and shuts every stage down. Errors
// caused by an earlier shutdown are not recorded.
func (w *Writer) fail(err error) {
	if errors.Is(err, ErrAborted) {
		w.abortOnce.Do(func() { close(w.abort) })
		return
	}
	w.mu.Lock()
	first := w.st.err == nil
	if first {
		w.st.err = err
	}
	w.mu.Unlock()
	if first {
		w.log.Logf(ufmflog.Error, "recording %s failed: %v", w.session, err)
	}
	w.abortOnce.Do(func() { close(w.abort) })
}

func (w *Writer) abortErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st.err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, w.st.err)
	}
	return ErrAborted
}

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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	ufmf "github.com/TheCacophonyProject/go-ufmf"
	"github.com/TheCacophonyProject/go-ufmf/config"
	"github.com/TheCacophonyProject/go-ufmf/source"
	"github.com/TheCacophonyProject/go-ufmf/stats"
	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
	"github.com/TheCacophonyProject/go-ufmf/ufmflog"
)

var version = "<not set>"

type InfoCmd struct {
	Filename string `arg:"positional,required" help:"UFMF recording, or its .zst archive"`
	Frames   bool   `arg:"-f,--frames" help:"list every frame"`
}

type RecordCmd struct {
	Config      string  `arg:"-c,--config" help:"YAML configuration file"`
	Input       string  `arg:"-i,--input" help:"uncompressed FMF file to convert (synthetic frames when empty)"`
	Output      string  `arg:"-o,--output" help:"output file, overriding the configuration"`
	Frames      int     `arg:"-n,--frames" default:"300" help:"number of synthetic frames"`
	FPS         float64 `arg:"--fps" default:"30" help:"synthetic frame rate"`
	Seed        int64   `arg:"--seed" default:"1" help:"synthetic scene seed"`
	MetricsAddr string  `arg:"--metrics-addr" help:"serve Prometheus metrics on this address"`
}

type Args struct {
	Info   *InfoCmd   `arg:"subcommand:info" help:"describe a recording"`
	Record *RecordCmd `arg:"subcommand:record" help:"compress frames into a recording"`
}

func (Args) Version() string {
	return version
}

func main() {
	var args Args
	p := arg.MustParse(&args)

	fs := afero.NewOsFs()
	var err error
	switch {
	case args.Info != nil:
		err = runInfo(fs, os.Stdout, args.Info)
	case args.Record != nil:
		err = runRecord(fs, args.Record)
	default:
		p.Fail("missing subcommand")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInfo(fs afero.Fs, out io.Writer, cmd *InfoCmd) error {
	var r *ufmf.Reader
	if strings.HasSuffix(cmd.Filename, ufmf.ArchiveExt) {
		var err error
		if r, err = ufmf.OpenArchive(fs, cmd.Filename); err != nil {
			return err
		}
	} else {
		f, err := fs.Open(cmd.Filename)
		if err != nil {
			return err
		}
		defer f.Close()
		if r, err = ufmf.NewReader(f); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "Version:     ", r.Version())
	fmt.Fprintf(out, "Resolution:   %dx%d\n", r.ResX(), r.ResY())
	fmt.Fprintln(out, "Coding:      ", r.ColorCoding())
	fmt.Fprintln(out, "Frames:      ", r.NumFrames())
	fmt.Fprintln(out, "Keyframes:   ", r.NumKeyFrames())
	if r.Recovered() {
		fmt.Fprintln(out, "Index:        missing, rebuilt from chunks")
	}
	idx := r.Index()
	if n := len(idx.Frames); n > 0 {
		fmt.Fprintln(out, "Duration:    ", idx.Frames[n-1].Timestamp-idx.Frames[0].Timestamp)
	}
	for i, kf := range idx.KeyFrames {
		fmt.Fprintf(out, "keyframe %d: offset %d, %v\n", i, kf.Offset, kf.Timestamp)
	}
	if !cmd.Frames {
		return nil
	}
	for i := range idx.Frames {
		cf, err := r.ReadFrame(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "frame %d: offset %d, %v, %d boxes, %d pixels, compressed %t\n",
			i, idx.Frames[i].Offset, cf.Timestamp, cf.NumBoxes(), cf.PixelsWritten(), cf.Compressed)
	}
	return nil
}

func runRecord(fs afero.Fs, cmd *RecordCmd) error {
	log := ufmflog.New(os.Stderr, ufmflog.Info, false)
	conf := config.Default()
	if cmd.Config != "" {
		var err error
		if conf, err = config.Load(fs, cmd.Config, log); err != nil {
			return err
		}
	}
	if cmd.Output != "" {
		conf.Output = cmd.Output
	}
	log = ufmflog.New(os.Stderr, conf.LogLevel, conf.LogBuffered)
	defer log.Close()
	log.Infof("running version: %s", version)

	src, err := openSource(fs, cmd, conf)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := conf.Options
	opts.Fs = fs
	opts.Log = log
	opts.Session = uuid.NewString()

	summary := new(stats.Summary)
	sinks := []stats.Sink{summary}
	if cmd.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sinks = append(sinks, stats.NewPrometheus(reg))
		go serveMetrics(cmd.MetricsAddr, reg, log)
	}
	if conf.StatsFile != "" {
		sf, err := stats.CreateFile(fs, conf.StatsFile, stats.FileHeader{Session: opts.Session, Output: conf.Output})
		if err != nil {
			return err
		}
		defer func() {
			if err := sf.Close(); err != nil {
				log.Errorf("closing %s: %v", conf.StatsFile, err)
			}
		}()
		sinks = append(sinks, sf)
	}
	opts.Stats = stats.Multi(sinks...)

	w, err := ufmf.NewWriter(conf.Output, src, opts)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	frame := ufmfframe.NewFrame(src)
	var recErr error
	for ctx.Err() == nil {
		if err := src.Next(frame); err != nil {
			if err != io.EOF {
				recErr = err
			}
			break
		}
		err := w.AddFrame(frame)
		if errors.Is(err, ufmf.ErrPixelRange) {
			continue
		}
		if err != nil {
			recErr = err
			break
		}
	}
	if ctx.Err() != nil {
		log.Warnf("interrupted, finishing %s", conf.Output)
	}

	written, err := w.Stop()
	if recErr == nil {
		recErr = err
	}
	rep := summary.Report()
	elapsed := time.Since(start)
	log.Infof("%d frames in %v (%.1f fps), %d keyframes, %d compressed, mean %.1f boxes, mean ratio %.2f, max latency %v",
		written, elapsed.Round(time.Millisecond), float64(written)/elapsed.Seconds(), w.NumKeyFrames(),
		rep.Compressed, rep.MeanBoxes, rep.MeanRatio, rep.MaxLatency)
	return recErr
}

func openSource(fs afero.Fs, cmd *RecordCmd, conf *config.Config) (source.Source, error) {
	if cmd.Input != "" {
		src, err := source.OpenFMF(fs, cmd.Input)
		if err != nil {
			return nil, err
		}
		if (conf.Width != 0 && conf.Width != src.ResX()) || (conf.Height != 0 && conf.Height != src.ResY()) {
			src.Close()
			return nil, fmt.Errorf("%s is %dx%d, configured for %dx%d", cmd.Input, src.ResX(), src.ResY(), conf.Width, conf.Height)
		}
		return src, nil
	}
	spec := conf.Camera()
	if spec.Cols == 0 {
		spec.Cols = 320
	}
	if spec.Rows == 0 {
		spec.Rows = 240
	}
	return source.NewSynthetic(spec, cmd.Frames, cmd.FPS, cmd.Seed), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *ufmflog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server: %v", err)
	}
}

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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes frame statistics as Prometheus metrics.
type Prometheus struct {
	sampled    prometheus.Counter
	keyframes  prometheus.Counter
	written    prometheus.Gauge
	fileBytes  prometheus.Gauge
	ratio      prometheus.Gauge
	reconError prometheus.Gauge
	buffered   *prometheus.GaugeVec
	boxes      prometheus.Histogram
	frameBytes prometheus.Histogram
	compress   prometheus.Histogram
	write      prometheus.Histogram
	latency    prometheus.Histogram
}

// NewPrometheus creates the UFMF metrics and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		sampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ufmf_sampled_frames_total",
			Help: "Frames reported to the statistics sink",
		}),
		keyframes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ufmf_sampled_keyframes_total",
			Help: "Sampled frames that were preceded by a background keyframe",
		}),
		written: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ufmf_frames_written",
			Help: "Frames written to the current recording",
		}),
		fileBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ufmf_file_bytes",
			Help: "Size of the current recording in bytes",
		}),
		ratio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ufmf_compression_ratio",
			Help: "Raw frame size divided by frame chunk size for the last sampled frame",
		}),
		reconError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ufmf_reconstruction_mean_abs_error",
			Help: "Mean absolute reconstruction error of the last checked frame",
		}),
		buffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ufmf_buffered_frames",
			Help: "Frames held in the writer's buffer pools",
		}, []string{"stage"}),
		boxes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ufmf_frame_boxes",
			Help:    "Foreground boxes per frame",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		frameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ufmf_frame_bytes",
			Help:    "Frame chunk size in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		compress: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ufmf_compress_seconds",
			Help:    "Time spent compressing a frame",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		write: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ufmf_write_seconds",
			Help:    "Time spent writing a frame chunk",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ufmf_frame_latency_seconds",
			Help:    "Time from AddFrame to the frame chunk being written",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	reg.MustRegister(
		p.sampled, p.keyframes, p.written, p.fileBytes, p.ratio, p.reconError,
		p.buffered, p.boxes, p.frameBytes, p.compress, p.write, p.latency,
	)
	return p
}

func (p *Prometheus) Record(s FrameStats) {
	p.sampled.Inc()
	if s.Keyframe {
		p.keyframes.Inc()
	}
	p.written.Set(float64(s.Written))
	p.fileBytes.Set(float64(s.FileBytes))
	p.ratio.Set(s.CompressionRatio)
	if s.ErrorChecked {
		p.reconError.Set(s.MeanAbsError)
	}
	p.buffered.WithLabelValues("raw").Set(float64(s.RawBuffered))
	p.buffered.WithLabelValues("compressed").Set(float64(s.CompressedBuffered))
	p.boxes.Observe(float64(s.Boxes))
	p.frameBytes.Observe(float64(s.Bytes))
	p.compress.Observe(s.CompressTime.Seconds())
	p.write.Observe(s.WriteTime.Seconds())
	p.latency.Observe(s.Latency.Seconds())
}

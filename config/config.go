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

// Package config loads recording settings from a YAML file.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	ufmf "github.com/TheCacophonyProject/go-ufmf"
	"github.com/TheCacophonyProject/go-ufmf/ufmfframe"
	"github.com/TheCacophonyProject/go-ufmf/ufmflog"
)

// Config holds everything needed to run a recording.
type Config struct {
	Output      string
	Width       int
	Height      int
	StatsFile   string
	LogLevel    ufmflog.Level
	LogBuffered bool
	Options     ufmf.Options
}

// Default returns the settings used for keys missing from a file.
func Default() *Config {
	return &Config{
		Output:   "out.ufmf",
		LogLevel: ufmflog.Info,
		Options:  ufmf.DefaultOptions(),
	}
}

type setter func(c *Config, n *yaml.Node) error

var keys = map[string]setter{
	"output":    stringKey(func(c *Config) *string { return &c.Output }),
	"width":     intKey(func(c *Config) *int { return &c.Width }),
	"height":    intKey(func(c *Config) *int { return &c.Height }),
	"n_buffers": intKey(func(c *Config) *int { return &c.Options.Buffers }),
	"n_threads": intKey(func(c *Config) *int { return &c.Options.Threads }),

	"bg_init_frames":     intKey(func(c *Config) *int { return &c.Options.BackgroundInitFrames }),
	"bg_update_period":   durationKey(func(c *Config) *time.Duration { return &c.Options.BackgroundUpdatePeriod }),
	"bg_keyframe_period": durationKey(func(c *Config) *time.Duration { return &c.Options.KeyFramePeriod }),
	"bg_keyframe_period_init": func(c *Config, n *yaml.Node) error {
		if n.Kind != yaml.SequenceNode {
			return fmt.Errorf("expected a list of periods")
		}
		periods := make([]time.Duration, len(n.Content))
		for i, item := range n.Content {
			d, err := decodeDuration(item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			periods[i] = d
		}
		c.Options.KeyFramePeriodInit = periods
		return nil
	},
	"back_sub_thresh":      floatKey(func(c *Config) *float64 { return &c.Options.BackSubThreshold }),
	"bg_reset_threshold":   intKey(func(c *Config) *int { return &c.Options.ResetThreshold }),
	"max_box_length":       intKey(func(c *Config) *int { return &c.Options.MaxBoxLength }),
	"max_frac_fg_compress": floatKey(func(c *Config) *float64 { return &c.Options.MaxForegroundFraction }),

	"stat_stream_print_freq":        intKey(func(c *Config) *int { return &c.Options.StatsFrequency }),
	"stat_compute_frame_error_freq": intKey(func(c *Config) *int { return &c.Options.ErrorCheckFrequency }),
	"max_wait":                      durationKey(func(c *Config) *time.Duration { return &c.Options.MaxWait }),
	"stats_file":                    stringKey(func(c *Config) *string { return &c.StatsFile }),
	"archive":                       boolKey(func(c *Config) *bool { return &c.Options.Archive }),
	"log_buffered":                  boolKey(func(c *Config) *bool { return &c.LogBuffered }),
	"log_level": func(c *Config, n *yaml.Node) error {
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		l, err := ufmflog.ParseLevel(s)
		if err != nil {
			return err
		}
		c.LogLevel = l
		return nil
	},
}

// Keys lists the recognised configuration keys.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load reads the YAML file at path on top of Default. Unknown keys and
// values that can't be decoded are logged and ignored.
func Load(fs afero.Fs, path string, log ufmf.Logger) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data, log)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML settings on top of Default.
func Parse(data []byte, log ufmf.Logger) (*Config, error) {
	if log == nil {
		log = ufmflog.Nop()
	}
	c := Default()

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return c, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of settings", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		set, ok := keys[k.Value]
		if !ok {
			log.Logf(ufmflog.Warning, "config line %d: ignoring unknown option %q", k.Line, k.Value)
			continue
		}
		if err := set(c, v); err != nil {
			log.Logf(ufmflog.Warning, "config line %d: ignoring %s: %v", v.Line, k.Value, err)
		}
	}
	return c, nil
}

// Camera returns the frame size as a camera spec.
func (c *Config) Camera() ufmfframe.Spec {
	return ufmfframe.Spec{Cols: c.Width, Rows: c.Height}
}

func stringKey(field func(*Config) *string) setter {
	return func(c *Config, n *yaml.Node) error {
		return n.Decode(field(c))
	}
}

func boolKey(field func(*Config) *bool) setter {
	return func(c *Config, n *yaml.Node) error {
		return n.Decode(field(c))
	}
}

func intKey(field func(*Config) *int) setter {
	return func(c *Config, n *yaml.Node) error {
		var v int
		if err := n.Decode(&v); err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("negative value %d", v)
		}
		*field(c) = v
		return nil
	}
}

func floatKey(field func(*Config) *float64) setter {
	return func(c *Config, n *yaml.Node) error {
		var v float64
		if err := n.Decode(&v); err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("negative value %v", v)
		}
		*field(c) = v
		return nil
	}
}

func durationKey(field func(*Config) *time.Duration) setter {
	return func(c *Config, n *yaml.Node) error {
		d, err := decodeDuration(n)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// decodeDuration accepts a number of seconds or a Go duration string.
func decodeDuration(n *yaml.Node) (time.Duration, error) {
	var secs float64
	if err := n.Decode(&secs); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative period %v", secs)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative period %v", d)
	}
	return d, nil
}

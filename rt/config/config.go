package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gekko3d/remix/rt/cache"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds every tunable of the scene manager. It is passed at construction and on
// Reconfigure; nothing reads it from globals.
type Config struct {
	// Frame pacing
	MaxFramesInFlight uint32  `toml:"max_frames_in_flight"`
	QueryWindowScale  uint32  `toml:"query_window_scale"`
	FixedFrameTimeMS  float64 `toml:"fixed_frame_time_ms"`

	// Geometry
	ObjectRetentionFrames uint32  `toml:"object_retention_frames"`
	VertexDeltaThreshold  float32 `toml:"vertex_delta_threshold"`

	// Caches
	MaterialCapacity int     `toml:"material_capacity"`
	SamplerCapacity  int     `toml:"sampler_capacity"`
	TextureCapacity  int     `toml:"texture_capacity"`
	BufferCapacity   int     `toml:"buffer_capacity"`
	VolumeCapacity   int     `toml:"volume_capacity"`
	EvictionPolicy   string  `toml:"eviction_policy"`
	EvictionSeed     uint64  `toml:"eviction_seed"`
	SamplerMipBias   float32 `toml:"sampler_mip_bias"`

	// Queries
	SearchWorkers int `toml:"search_workers"`

	// Debug
	StrictStateChecks bool `toml:"strict_state_checks"`
	Debug             bool `toml:"debug"`
}

// Default mirrors the stock runtime settings. Table capacities match 16-bit GPU indices.
func Default() Config {
	return Config{
		MaxFramesInFlight:     3,
		QueryWindowScale:      2,
		ObjectRetentionFrames: 5,
		VertexDeltaThreshold:  0.01,
		MaterialCapacity:      math.MaxUint16,
		SamplerCapacity:       4096,
		TextureCapacity:       math.MaxUint16,
		BufferCapacity:        0,
		VolumeCapacity:        1024,
		EvictionPolicy:        cache.EvictOldestUnused.String(),
		SearchWorkers:         2,
	}
}

// Load reads a TOML file on top of Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text on top of Default, for embedded presets and tests.
func Parse(text string) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, cfg.Validate()
}

// Encode writes the config as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c Config) Validate() error {
	if c.MaxFramesInFlight == 0 {
		return fmt.Errorf("%w: max_frames_in_flight must be positive", ErrInvalid)
	}
	if c.QueryWindowScale == 0 {
		return fmt.Errorf("%w: query_window_scale must be positive", ErrInvalid)
	}
	if c.VertexDeltaThreshold < 0 || math.IsNaN(float64(c.VertexDeltaThreshold)) {
		return fmt.Errorf("%w: vertex_delta_threshold %v", ErrInvalid, c.VertexDeltaThreshold)
	}
	if c.FixedFrameTimeMS < 0 {
		return fmt.Errorf("%w: fixed_frame_time_ms %v", ErrInvalid, c.FixedFrameTimeMS)
	}
	for name, v := range map[string]int{
		"material_capacity": c.MaterialCapacity,
		"sampler_capacity":  c.SamplerCapacity,
		"texture_capacity":  c.TextureCapacity,
		"buffer_capacity":   c.BufferCapacity,
		"volume_capacity":   c.VolumeCapacity,
		"search_workers":    c.SearchWorkers,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalid, name)
		}
	}
	if _, err := cache.ParsePolicy(c.EvictionPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Policy is the parsed eviction policy. Validate has already rejected bad names.
func (c Config) Policy() cache.Policy {
	p, _ := cache.ParsePolicy(c.EvictionPolicy)
	return p
}

// CacheOptions builds the options of one cache from its capacity.
func (c Config) CacheOptions(capacity int) cache.Options {
	return cache.Options{Capacity: capacity, Policy: c.Policy(), Seed: c.EvictionSeed}
}

// QueryWindowFrames is the validity window of every async query.
func (c Config) QueryWindowFrames() uint32 {
	return c.QueryWindowScale * c.MaxFramesInFlight
}

// FixedFrameTime is zero when frame time is measured.
func (c Config) FixedFrameTime() time.Duration {
	return time.Duration(c.FixedFrameTimeMS * float64(time.Millisecond))
}

// Flags holds CLI values that override the file.
type Flags struct {
	Debug             bool
	Strict            bool
	MaxFramesInFlight int
	Workers           int
	Policy            string
}

// Resolve applies CLI overrides. Zero flag values leave the file setting.
func (c *Config) Resolve(flags Flags) {
	if flags.Debug {
		c.Debug = true
	}
	if flags.Strict {
		c.StrictStateChecks = true
	}
	if flags.MaxFramesInFlight > 0 {
		c.MaxFramesInFlight = uint32(flags.MaxFramesInFlight)
	}
	if flags.Workers > 0 {
		c.SearchWorkers = flags.Workers
	}
	if flags.Policy != "" {
		c.EvictionPolicy = flags.Policy
	}
}

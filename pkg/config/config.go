// Package config provides configuration loading and management for ctbackprojector.
// It handles loading configuration from YAML files, provides default values and
// validates the result before a scan geometry is built from it.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ctbackprojector/pkg/geometry"
)

// configValidate checks the struct tags of Config.
var configValidate = validator.New()

// Size3 is a per-axis physical length.
type Size3 struct {
	X float64 `yaml:"x" validate:"gt=0"`
	Y float64 `yaml:"y" validate:"gt=0"`
	Z float64 `yaml:"z" validate:"gt=0"`
}

// Count3 is a per-axis voxel count.
type Count3 struct {
	X int `yaml:"x" validate:"gte=0"`
	Y int `yaml:"y" validate:"gte=0"`
	Z int `yaml:"z" validate:"gte=0"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Acquisition and volume geometry. Lengths are in micrometers, angles in degrees.
	Geometry struct {
		// VoxelSize is the size of one voxel along each axis
		VoxelSize Size3 `yaml:"voxelSize"`

		// VoxelCount is the number of voxels along each axis
		VoxelCount Count3 `yaml:"voxelCount"`

		// VolumeSize, when set, overrides VoxelCount: the count along each
		// axis becomes round(VolumeSize / VoxelSize)
		VolumeSize *Size3 `yaml:"volumeSize,omitempty"`

		// PixelSize is the side length of a square detector pixel
		PixelSize float64 `yaml:"pixelSize" validate:"gt=0"`

		// DetectorPixels is the detector side in pixels, 0 to take it from the input
		DetectorPixels int `yaml:"detectorPixels" validate:"gte=0"`

		// Aperture is the angular range covered by the source
		Aperture float64 `yaml:"aperture" validate:"gte=0,lte=360"`

		// StepAngle is the angle between consecutive source positions
		StepAngle float64 `yaml:"stepAngle" validate:"gt=0"`

		// SourceDistance is the distance from the volume center to the source
		SourceDistance float64 `yaml:"sourceDistance" validate:"gt=0"`

		// DetectorDistance is the distance from the volume center to the detector
		DetectorDistance float64 `yaml:"detectorDistance" validate:"gt=0"`
	} `yaml:"geometry"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores" validate:"gte=0"`

		// ProjectionWorkers is the number of projections backprojected at once (0 = derived)
		ProjectionWorkers int `yaml:"projectionWorkers" validate:"gte=0"`

		// RowWorkers is the number of goroutines per projection (0 = derived)
		RowWorkers int `yaml:"rowWorkers" validate:"gte=0"`

		// AllowPartial writes the volume even when the input ends early
		AllowPartial bool `yaml:"allowPartial"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// ExtractSlices saves axis-aligned slices of the volume as images
		ExtractSlices bool `yaml:"extractSlices"`

		// SlicesDir is where extracted slices are written
		SlicesDir string `yaml:"slicesDir" validate:"required_if=ExtractSlices true"`

		// SliceAxis is the axis slices are taken across
		SliceAxis string `yaml:"sliceAxis" validate:"oneof=x y z"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// 200^3 voxels of 500 µm: a 10 cm cube
	cfg.Geometry.VoxelSize = Size3{X: 500, Y: 500, Z: 500}
	cfg.Geometry.VoxelCount = Count3{X: 200, Y: 200, Z: 200}
	cfg.Geometry.PixelSize = 85
	cfg.Geometry.DetectorPixels = 0
	cfg.Geometry.Aperture = 90
	cfg.Geometry.StepAngle = 15
	cfg.Geometry.SourceDistance = 600000
	cfg.Geometry.DetectorDistance = 150000

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.ProjectionWorkers = 0
	cfg.Processing.RowWorkers = 0
	cfg.Processing.AllowPartial = false

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.ExtractSlices = false
	cfg.Output.SlicesDir = "reconstructed_slices"
	cfg.Output.SliceAxis = "z"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks field constraints. Errors wrap geometry.ErrInvalidConfig.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", geometry.ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// drop the leading "Config." from the namespace
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("%w: %s", geometry.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// ScanParams converts the geometry section into scan parameters, resolving
// VolumeSize into voxel counts when it is set.
func (c *Config) ScanParams() (geometry.Params, error) {
	if err := c.Validate(); err != nil {
		return geometry.Params{}, err
	}

	g := c.Geometry
	p := geometry.Params{
		VoxelSize:        [3]float64{g.VoxelSize.X, g.VoxelSize.Y, g.VoxelSize.Z},
		VoxelCount:       [3]int{g.VoxelCount.X, g.VoxelCount.Y, g.VoxelCount.Z},
		PixelSize:        g.PixelSize,
		DetectorPixels:   g.DetectorPixels,
		Aperture:         g.Aperture,
		StepAngle:        g.StepAngle,
		SourceDistance:   g.SourceDistance,
		DetectorDistance: g.DetectorDistance,
	}

	if g.VolumeSize != nil {
		size := [3]float64{g.VolumeSize.X, g.VolumeSize.Y, g.VolumeSize.Z}
		for _, a := range geometry.Axes {
			p.VoxelCount[a] = int(math.Round(size[a] / p.VoxelSize[a]))
		}
	}
	for _, a := range geometry.Axes {
		if p.VoxelCount[a] < 1 {
			return geometry.Params{}, fmt.Errorf("%w: no voxels along %s", geometry.ErrInvalidConfig, a)
		}
	}
	return p, nil
}

// Cores returns NumCores, or the number of CPUs when it is zero.
func (c *Config) Cores() int {
	if c.Processing.NumCores > 0 {
		return c.Processing.NumCores
	}
	return runtime.NumCPU()
}

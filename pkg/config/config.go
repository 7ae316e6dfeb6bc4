// Package config provides configuration loading and management for voxelfit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// PoolSize is the number of fitting workers; 0 uses every CPU
		PoolSize int `yaml:"poolSize" validate:"gte=0"`

		// ScaleToMean divides each input's voxel vector by its mean before fitting
		ScaleToMean bool `yaml:"scaleToMean"`

		// Precision selects the output element type: float32 or float64
		Precision string `yaml:"precision" validate:"oneof=float32 float64"`
	} `yaml:"processing"`

	// Phantom parameters used by the simulate command
	Phantom struct {
		// Size is the grid extent in voxels
		Size []int `yaml:"size" validate:"min=1,max=3,dive,gt=0"`

		// Spacing is the voxel size in mm
		Spacing []float64 `yaml:"spacing" validate:"omitempty,dive,gt=0"`

		// PD, T1 and T2 are [low, high] ranges ramped along one axis each
		PD []float64 `yaml:"pd" validate:"len=2"`
		T1 []float64 `yaml:"t1" validate:"len=2,dive,gt=0"`
		T2 []float64 `yaml:"t2" validate:"len=2,dive,gt=0"`

		// Noise is the Gaussian noise standard deviation added to the signal
		Noise float64 `yaml:"noise" validate:"gte=0"`

		// Seed makes the simulated noise reproducible
		Seed uint64 `yaml:"seed"`

		// MaskFraction sets the foreground ellipsoid size relative to the grid
		MaskFraction float64 `yaml:"maskFraction" validate:"gt=0,lte=1"`

		// B1 is a [low, high] range of relative transmit field values
		B1 []float64 `yaml:"b1" validate:"len=2,dive,gt=0"`
	} `yaml:"phantom"`

	// Multi-echo spin echo sequence, times in seconds
	MultiEcho struct {
		TE1 float64 `yaml:"te1" validate:"gt=0"`
		ESP float64 `yaml:"esp" validate:"gt=0"`
		ETL int     `yaml:"etl" validate:"gte=2"`
	} `yaml:"multiEcho"`

	// Spoiled gradient echo sequence, TR in seconds and flip angles in degrees
	SPGR struct {
		TR         float64   `yaml:"tr" validate:"gt=0"`
		FlipAngles []float64 `yaml:"flipAngles" validate:"min=2,dive,gt=0,lt=90"`
	} `yaml:"spgr"`

	// Output parameters
	Output struct {
		// Dir is where volumes are written
		Dir string `yaml:"dir" validate:"required"`

		// Prefix is prepended to every output name
		Prefix string `yaml:"prefix"`

		// SavePreview writes JPEG previews of each output map
		SavePreview bool `yaml:"savePreview"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.PoolSize = 0 // Use all available cores by default
	cfg.Processing.ScaleToMean = false
	cfg.Processing.Precision = "float32"

	// Set default phantom parameters
	cfg.Phantom.Size = []int{32, 32, 32}
	cfg.Phantom.Spacing = []float64{1, 1, 1}
	cfg.Phantom.PD = []float64{0.8, 1.0}
	cfg.Phantom.T1 = []float64{0.8, 1.6}
	cfg.Phantom.T2 = []float64{0.04, 0.1}
	cfg.Phantom.Noise = 0.001
	cfg.Phantom.Seed = 1
	cfg.Phantom.MaskFraction = 0.8
	cfg.Phantom.B1 = []float64{0.9, 1.1}

	// Set default sequence parameters
	cfg.MultiEcho.TE1 = 0.01
	cfg.MultiEcho.ESP = 0.01
	cfg.MultiEcho.ETL = 5
	cfg.SPGR.TR = 0.01
	cfg.SPGR.FlipAngles = []float64{3, 18}

	// Set default output parameters
	cfg.Output.Dir = "voxelfit_output"
	cfg.Output.Prefix = ""
	cfg.Output.SavePreview = false
	cfg.Output.Verbose = false

	return cfg
}

var validate = validator.New()

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Phantom.Spacing) > 0 && len(c.Phantom.Spacing) != len(c.Phantom.Size) {
		return fmt.Errorf("invalid configuration: phantom spacing has %d entries for %d dimensions",
			len(c.Phantom.Spacing), len(c.Phantom.Size))
	}
	return nil
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

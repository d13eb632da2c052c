package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device struct {
		// Backend selects the compute backend: "opencl" or "sim".
		// Empty means auto-detect (OpenCL if built in and available).
		Backend    string `yaml:"backend"`
		PlatformID int    `yaml:"platformId"`
		DeviceID   int    `yaml:"deviceId"`
		// Type restricts device selection: "gpu", "cpu" or "all".
		Type string `yaml:"type"`
	} `yaml:"device"`
	Integration struct {
		Nx      int  `yaml:"nx"`
		Nimage  int  `yaml:"nimage"`
		Nbins   int  `yaml:"nbins"`
		UseFP64 bool `yaml:"useFp64"`
	} `yaml:"integration"`
	// KernelPath overrides the embedded device program source.
	KernelPath string `yaml:"kernelPath"`
	Logger     struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = "info"
	}
	if c.Device.Type == "" {
		c.Device.Type = "all"
	}
	if c.Integration.Nbins == 0 {
		c.Integration.Nbins = 1000
	}
}

// Validate rejects settings the integrator would refuse later anyway, so
// a bad file fails at load time instead of at configure time.
func (c *Config) Validate() error {
	switch c.Device.Backend {
	case "", "opencl", "sim":
	default:
		return fmt.Errorf("config: unknown device backend %q", c.Device.Backend)
	}
	switch c.Device.Type {
	case "gpu", "cpu", "all":
	default:
		return fmt.Errorf("config: unknown device type %q", c.Device.Type)
	}
	if c.Integration.Nbins < 1 {
		return fmt.Errorf("config: nbins must be positive, got %d", c.Integration.Nbins)
	}
	return nil
}

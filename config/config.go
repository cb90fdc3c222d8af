// Package config provides YAML configuration loading for pbcdlcomm.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for one collection agent instance.
type Config struct {
	// WorkingPath is the directory output files, the lockfile, and hex
	// traces are written under. Required.
	WorkingPath string `yaml:"working_path"`

	// StationName and LoggerType are printed verbatim into every table's
	// TOA5 header. Required.
	StationName string `yaml:"station_name"`
	LoggerType  string `yaml:"logger_type"`

	// PakbusAddr addresses this agent and the target datalogger on the
	// PakBus network. Required.
	PakbusAddr PakbusAddrConfig `yaml:"pakbus_addr"`

	// DataSource configures the byte-oriented transport used to reach the
	// datalogger. Required.
	DataSource DataSourceConfig `yaml:"data_source"`

	// Tables lists the tables to collect and their per-table options. At
	// least one entry is required.
	Tables []TableConfig `yaml:"tables"`

	// Separator delimits cells in the output file. Defaults to ", " when
	// omitted, matching the legacy text-output format.
	Separator string `yaml:"separator"`

	// Trace enables hex tracing of every inbound/outbound PakBus frame to
	// a rotating file under WorkingPath.
	Trace bool `yaml:"trace"`
}

// PakbusAddrConfig addresses this agent (Src) and the target datalogger
// (Dst) on the PakBus network.
type PakbusAddrConfig struct {
	SrcNode  uint16 `yaml:"src_node"`
	DstNode  uint16 `yaml:"dst_node"`
	SrcPhys  uint16 `yaml:"src_phys"`
	DstPhys  uint16 `yaml:"dst_phys"`
	HopCount byte   `yaml:"hop_count"`
}

// DataSourceConfig configures how to reach the datalogger. Kind is "tcp"
// or "serial"; the corresponding fields are populated accordingly.
type DataSourceConfig struct {
	Kind         string `yaml:"kind"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Device       string `yaml:"device"`
	BaudRate     int    `yaml:"baud_rate"`
	RetryOnFail  bool   `yaml:"retry_on_fail"`
	ReadTimeoutS int    `yaml:"read_timeout_s"`
}

// TableConfig is one table's collection options.
type TableConfig struct {
	Name       string `yaml:"name"`
	SpanSecs   int    `yaml:"table_span_secs"`
	SampleSecs int    `yaml:"sample_interval_secs"`
}

const defaultSeparator = ", "
const defaultReadTimeoutS = 10

// Load reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Separator == "" {
		cfg.Separator = defaultSeparator
	}
	if cfg.DataSource.ReadTimeoutS == 0 {
		cfg.DataSource.ReadTimeoutS = defaultReadTimeoutS
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.WorkingPath == "" {
		errs = append(errs, errors.New("working_path is required"))
	}
	if cfg.StationName == "" {
		errs = append(errs, errors.New("station_name is required"))
	}
	if len(cfg.Tables) == 0 {
		errs = append(errs, errors.New("at least one entry in tables is required"))
	}
	switch cfg.DataSource.Kind {
	case "tcp":
		if cfg.DataSource.Host == "" {
			errs = append(errs, errors.New("data_source.host is required for kind \"tcp\""))
		}
		if cfg.DataSource.Port == 0 {
			errs = append(errs, errors.New("data_source.port is required for kind \"tcp\""))
		}
	case "serial":
		if cfg.DataSource.Device == "" {
			errs = append(errs, errors.New("data_source.device is required for kind \"serial\""))
		}
	default:
		errs = append(errs, fmt.Errorf("data_source.kind %q must be one of: tcp, serial", cfg.DataSource.Kind))
	}

	for i, t := range cfg.Tables {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: name is required", i))
		}
	}

	return errors.Join(errs...)
}

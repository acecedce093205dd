package main

import (
	"errors"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/jzelinskie/utrackd"
)

// ConfigFile is the top-level shape of the tracker's YAML configuration
// file, grounded on cmd/chihaya/main.go's ConfigFile.
type ConfigFile struct {
	MainConfigBlock struct {
		utrackd.Config `yaml:",inline"`

		PrometheusAddr string `yaml:"prometheus_addr"`
		Debug          bool   `yaml:"debug"`
	} `yaml:"utrackd"`
}

// ParseConfigFile returns a new ConfigFile given the path to a YAML
// configuration file. It supports relative and absolute paths and
// environment variables.
func ParseConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, errors.New("no config path specified")
	}

	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}

	cfgFile := defaultConfigFile()
	if err := yaml.Unmarshal(contents, &cfgFile); err != nil {
		return nil, err
	}

	return &cfgFile, nil
}

// defaultConfigFile returns a ConfigFile pre-populated with the values a
// bare-bones deployment needs, so a config file only needs to override
// what it cares about.
func defaultConfigFile() ConfigFile {
	var cfgFile ConfigFile
	cfgFile.MainConfigBlock.Addr = ":6969"
	cfgFile.MainConfigBlock.Workers = 4
	cfgFile.MainConfigBlock.AnnounceQueueSize = 4096
	cfgFile.MainConfigBlock.PeerTimeout = 30 * time.Minute
	cfgFile.MainConfigBlock.PruneInterval = 10 * time.Second
	cfgFile.MainConfigBlock.KeyRotationInterval = 2 * time.Minute
	cfgFile.MainConfigBlock.DefaultNumWant = 50
	cfgFile.MainConfigBlock.MaxNumWant = 200
	cfgFile.MainConfigBlock.PrometheusAddr = ":6880"
	return cfgFile
}

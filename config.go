package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultConfig = `# Osmium Protocol Gateway Configuration File

server:
  port: 8443
  # Protocol version spoken on the multiplexed side. Options: 2, 3
  mux_version: 3
  # Maximum accumulated body size of a single stream, in bytes.
  # Streams exceeding it are evicted and the connection is closed.
  max_content_length: 1048576
  tls:
    enabled: false
    # Options: self-signed, acme
    provider: self-signed
    domain: localhost

upstream:
  # HTTP/1.1 origin that decoded requests are forwarded to.
  address: 127.0.0.1:8080

logging:
  access_log: access.log
  error_log: error.log
`

var config *Config

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port             int       `yaml:"port"`
	MuxVersion       int       `yaml:"mux_version"`
	MaxContentLength int       `yaml:"max_content_length"`
	TLS              TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Domain   string `yaml:"domain"`
}

type UpstreamConfig struct {
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	AccessLog string `yaml:"access_log"`
	ErrorLog  string `yaml:"error_log"`
}

func CreateDefaultConfig() error {
	path := GetConfigPath()
	if _, err := os.Stat(GetDataDirectory()); os.IsNotExist(err) {
		err := os.MkdirAll(GetDataDirectory(), 0755)
		if err != nil {
			return fmt.Errorf("failed to create data directory: %v", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		// Config file already exists, do nothing
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create default config file: %v", err)
	}
	defer f.Close()
	if _, err = f.WriteString(DefaultConfig); err != nil {
		return fmt.Errorf("failed to write default config file: %v", err)
	}

	return nil
}

func GetConfigPath() string {
	return GetDataDirectory() + string(os.PathSeparator) + "config.yaml"
}

func GetConfig() (Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err := CreateDefaultConfig()
			if err != nil {
				return Config{}, fmt.Errorf("failed to create default config file: %v", err)
			}
			return GetConfig()
		}
		return Config{}, fmt.Errorf("failed to read config file: %v", err)
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %v", err)
	}
	if config.Server.MuxVersion == 0 {
		config.Server.MuxVersion = 3
	}
	if config.Server.MaxContentLength == 0 {
		config.Server.MaxContentLength = 1 << 20
	}

	return *config, nil
}

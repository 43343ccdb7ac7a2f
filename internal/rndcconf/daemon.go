// Copyright (c) 2023-2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package rndcconf

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"go.isc.org/rndc/internal/atomicfile"
)

const daemonTemplateName = "rndcd.yaml.tmpl"

//go:embed rndcd.yaml.tmpl
var daemonConfigFS embed.FS

var daemonConfigTmpl = template.Must(
	template.New(daemonTemplateName).ParseFS(daemonConfigFS, daemonTemplateName),
)

// DaemonConfigOptions parameterizes GenerateDaemonConfig's rendering of the
// template.
type DaemonConfigOptions struct {
	ListenAddr string
	KeyName    string
	KeySecret  string
}

// DaemonConfig is cmd/rndcd's YAML configuration: the address to listen on,
// the set of accepted keys, and observability toggles.
type DaemonConfig struct {
	ListenAddr    string              `yaml:"listen_addr"`
	Keys          map[string]string   `yaml:"keys"`
	Logging       DaemonLoggingConfig `yaml:"logging"`
	Metrics       DaemonMetricsConfig `yaml:"metrics"`
	HandlerConfig DaemonHandlerConfig `yaml:"handler"`
}

// DaemonLoggingConfig controls zerolog's minimum level.
type DaemonLoggingConfig struct {
	Level LogLevel `yaml:"level"`
}

// LogLevel names one of zerolog's severity levels accepted in config.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// DaemonMetricsConfig enables the Prometheus metrics endpoint.
type DaemonMetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DaemonHandlerConfig sets rndcd's per-connection deadline
// (rndcserver.Options.SessionTimeout), which covers the whole session,
// handshake and command handler together. The handler itself is not
// interrupted when it expires; the connection's reads and writes fail.
type DaemonHandlerConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// GenerateDaemonConfig renders the embedded rndcd.yaml.tmpl with opts,
// writes it atomically to file on fs, and returns the parsed result.
func GenerateDaemonConfig(fs afero.Fs, file string, opts DaemonConfigOptions) (*DaemonConfig, error) {
	var buf bytes.Buffer
	if err := daemonConfigTmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("render daemon config template: %w", err)
	}

	if err := atomicfile.WriteFileWithFs(fs, file, buf.Bytes(), 0o640); err != nil {
		return nil, fmt.Errorf("writing daemon config: %w", err)
	}

	cfg := &DaemonConfig{}
	if err := yaml.Unmarshal(buf.Bytes(), cfg); err != nil {
		return nil, fmt.Errorf("parse daemon config: %w", err)
	}
	return cfg, nil
}

// LoadDaemonConfig reads and parses a daemon config previously written by
// GenerateDaemonConfig (or hand-edited in the same shape).
func LoadDaemonConfig(fs afero.Fs, file string) (*DaemonConfig, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return nil, fmt.Errorf("reading daemon config: %w", err)
	}

	cfg := &DaemonConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse daemon config: %w", err)
	}
	return cfg, nil
}

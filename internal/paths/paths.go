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

// Package paths centralizes the default filesystem locations BIND's own
// rndc tools use, with an environment override for tests and
// non-standard installs.
package paths

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDir = "/etc"
	defaultRunDir    = "/run/named"
)

// envRoot, when set, is prepended to every path this package returns; it
// exists so tests and containerized deployments can redirect rndc's
// default file locations without touching /etc.
const envRoot = "RNDC_ROOT"

func root() string {
	if r := os.Getenv(envRoot); r != "" {
		return filepath.Clean(r)
	}
	return ""
}

// ConfigPath returns the default location of a config file (e.g.
// "rndc.conf") under /etc, honoring RNDC_ROOT.
func ConfigPath(name string) string {
	return filepath.Join(root(), defaultConfigDir, name)
}

// DefaultClientConfig is where rndc looks for its configuration absent an
// explicit -c flag.
func DefaultClientConfig() string { return ConfigPath("rndc.conf") }

// DefaultKeyFile is the location of a bare key stanza under BIND's
// rndc.key convention, honoring RNDC_ROOT. cmd/rndc does not read it: a
// missing rndc.conf yields an empty configuration instead.
func DefaultKeyFile() string { return ConfigPath("rndc.key") }

// DefaultDaemonConfig is where rndcd looks for its YAML configuration
// absent an explicit -c flag.
func DefaultDaemonConfig() string { return ConfigPath("rndcd.yaml") }

// RunPath returns the default location of a runtime file (e.g. a pid
// file) under /run/named, honoring RNDC_ROOT.
func RunPath(name string) string {
	return filepath.Join(root(), defaultRunDir, name)
}

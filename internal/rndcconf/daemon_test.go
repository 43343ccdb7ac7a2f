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
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndLoadDaemonConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "rndcd.yaml"

	cfg, err := GenerateDaemonConfig(fs, path, DaemonConfigOptions{
		ListenAddr: "127.0.0.1:953",
		KeyName:    "rndc-key",
		KeySecret:  "YWJjZGVmZ2hpamtsbW5vcA==",
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:953", cfg.ListenAddr)
	require.Equal(t, "YWJjZGVmZ2hpamtsbW5vcA==", cfg.Keys["rndc-key"])
	require.Equal(t, InfoLevel, cfg.Logging.Level)

	loaded, err := LoadDaemonConfig(fs, path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadDaemonConfigMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := LoadDaemonConfig(fs, "missing.yaml")
	require.Error(t, err)
}

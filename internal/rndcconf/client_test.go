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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConf = `
# comment lines are ignored
key "rndc-key" {
	algorithm hmac-md5;
	secret "YWJjZGVmZ2hpamtsbW5vcA==";
};

server 127.0.0.1 {
	key "rndc-key";
	port 953;
};

options {
	default-server 127.0.0.1;
	default-key "rndc-key";
};
`

func TestParseClientConfig(t *testing.T) {
	cfg, err := ParseClientConfig(strings.NewReader(sampleConf))
	require.NoError(t, err)

	require.Contains(t, cfg.Keys, "rndc-key")
	assert.Equal(t, "hmac-md5", cfg.Keys["rndc-key"].Algorithm)
	assert.Equal(t, "YWJjZGVmZ2hpamtsbW5vcA==", cfg.Keys["rndc-key"].Secret)

	require.Contains(t, cfg.Servers, "127.0.0.1")
	assert.Equal(t, 953, cfg.Servers["127.0.0.1"].Port)

	assert.Equal(t, "127.0.0.1", cfg.DefaultServer)
	assert.Equal(t, "rndc-key", cfg.DefaultKey)
}

func TestParseClientConfigResolveKey(t *testing.T) {
	cfg, err := ParseClientConfig(strings.NewReader(sampleConf))
	require.NoError(t, err)

	k, err := cfg.ResolveKey()
	require.NoError(t, err)
	assert.Equal(t, "rndc-key", k.Name)
}

func TestParseClientConfigMissingKeyResolution(t *testing.T) {
	cfg, err := ParseClientConfig(strings.NewReader(`
server 127.0.0.1 {
	port 953;
};
options {
	default-server 127.0.0.1;
};
`))
	require.NoError(t, err)

	_, err = cfg.ResolveKey()
	assert.Error(t, err)
}

func TestParseClientConfigUnknownStatement(t *testing.T) {
	_, err := ParseClientConfig(strings.NewReader(`bogus { foo bar; };`))
	assert.Error(t, err)
}

func TestParseClientConfigMalformedBlock(t *testing.T) {
	_, err := ParseClientConfig(strings.NewReader(`key "k" { algorithm hmac-md5 secret "x"; };`))
	assert.Error(t, err)
}

func TestParseClientConfigDefaultPort(t *testing.T) {
	cfg, err := ParseClientConfig(strings.NewReader(`
key "k" { algorithm hmac-md5; secret "c2VjcmV0"; };
options { default-server localhost; default-key "k"; };
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultRNDCPort, cfg.DefaultPort)
}

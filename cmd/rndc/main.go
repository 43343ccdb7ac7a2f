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

// Command rndc sends a single control command to a running rndcd (or
// BIND named) instance and prints its response.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go.isc.org/rndc/internal/paths"
	"go.isc.org/rndc/internal/rndcclient"
	"go.isc.org/rndc/internal/rndcconf"
)

func rootCmd() *cobra.Command {
	var (
		configPath string
		server     string
		port       int
		keyName    string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rndc [flags] command",
		Short: "rndc - remote control BIND's named",
		// Silence because we want to use our logger instead
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Args:              cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			host := server
			if host == "" {
				host = cfg.DefaultServer
			}
			if host == "" {
				return fmt.Errorf("rndc: no server specified (-s) and no default-server in %s", configPath)
			}

			key, err := resolveKey(cfg, host, keyName)
			if err != nil {
				return err
			}

			resolvedPort := port
			if resolvedPort == 0 {
				if s, ok := cfg.Servers[host]; ok && s.Port != 0 {
					resolvedPort = s.Port
				} else {
					resolvedPort = cfg.DefaultPort
				}
			}

			c := rndcclient.New(host, resolvedPort, key)
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := c.Do(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", paths.DefaultClientConfig(), "path to rndc.conf")
	cmd.Flags().StringVarP(&server, "server", "s", "", "server to control (overrides default-server)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "server port (overrides rndc.conf)")
	cmd.Flags().StringVarP(&keyName, "key", "y", "", "key name to authenticate with (overrides rndc.conf)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "command timeout")

	return cmd
}

func loadConfig(path string) (*rndcconf.ClientConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &rndcconf.ClientConfig{
				Keys:        map[string]rndcconf.Key{},
				Servers:     map[string]rndcconf.ServerEntry{},
				DefaultPort: rndcconf.DefaultRNDCPort,
			}, nil
		}
		return nil, fmt.Errorf("rndc: opening %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := rndcconf.ParseClientConfig(f)
	if err != nil {
		return nil, fmt.Errorf("rndc: %w", err)
	}
	return cfg, nil
}

// resolveKey picks the base64 secret to sign the request with, preferring
// an explicit -y flag, then the key attached to host's server block, then
// rndc.conf's default-key.
func resolveKey(cfg *rndcconf.ClientConfig, host, keyName string) (string, error) {
	if keyName == "" {
		if s, ok := cfg.Servers[host]; ok {
			keyName = s.Key
		}
	}
	if keyName == "" {
		keyName = cfg.DefaultKey
	}
	k, ok := cfg.Keys[keyName]
	if !ok {
		return "", fmt.Errorf("rndc: no key named %q in configuration", keyName)
	}
	return k.Secret, nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("rndc failed")
		os.Exit(1)
	}
}

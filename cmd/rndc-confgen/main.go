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

// Command rndc-confgen generates a fresh RNDC key and the matching
// rndc.conf and rndcd.yaml stanzas, mirroring BIND's own rndc-confgen.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go.isc.org/rndc/internal/atomicfile"
	"go.isc.org/rndc/internal/paths"
	"go.isc.org/rndc/internal/rndcconf"
	"go.isc.org/rndc/internal/rndckey"
)

func rootCmd() *cobra.Command {
	var (
		keyName     string
		listenAddr  string
		out         string
		daemonOut   string
		keyFileOnly bool
	)

	cmd := &cobra.Command{
		Use:               "rndc-confgen",
		Short:             "rndc-confgen - generate an RNDC key and configuration stanzas",
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rndckey.Generate(keyName)
			if err != nil {
				return err
			}

			fs := afero.NewOsFs()

			if keyFileOnly {
				return atomicfile.WriteFileWithFs(fs, out, []byte(key.ConfStanza()), 0o640)
			}

			clientConf := key.ConfStanza() + fmt.Sprintf(
				"\noptions {\n\tdefault-key %q;\n\tdefault-server localhost;\n\tdefault-port %d;\n};\n",
				key.Name, rndcconf.DefaultRNDCPort,
			)
			if err := atomicfile.WriteFileWithFs(fs, out, []byte(clientConf), 0o640); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote client configuration to %s\n", out)

			if _, err := rndcconf.GenerateDaemonConfig(fs, daemonOut, rndcconf.DaemonConfigOptions{
				ListenAddr: listenAddr,
				KeyName:    key.Name,
				KeySecret:  key.Secret,
			}); err != nil {
				return fmt.Errorf("writing %s: %w", daemonOut, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote daemon configuration to %s\n", daemonOut)

			return nil
		},
	}

	cmd.Flags().StringVarP(&keyName, "key-name", "k", "rndc-key", "name for the generated key")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:953", "address rndcd should listen on")
	cmd.Flags().StringVarP(&out, "out", "o", paths.DefaultClientConfig(), "path to write rndc.conf")
	cmd.Flags().StringVarP(&daemonOut, "daemon-out", "d", paths.DefaultDaemonConfig(), "path to write rndcd.yaml")
	cmd.Flags().BoolVar(&keyFileOnly, "key-only", false, "write a bare key {} stanza to -o instead of a full rndc.conf")

	return cmd
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("rndc-confgen failed")
		os.Exit(1)
	}
}

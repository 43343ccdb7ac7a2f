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

package rndcserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.isc.org/rndc/internal/zonecheck"
)

// WithZoneCheck wraps next so that, after a successful
// "retransfer <zone> <serial>" command, it queries checker for the zone's
// live SOA serial and only reports success once the answering nameserver
// agrees. This turns a retransfer acknowledgment from "the command was
// accepted" into "the change is actually being served". Every other
// command, including a plain "reload", is passed through unchecked.
func WithZoneCheck(next Handler, checker *zonecheck.Checker) Handler {
	return func(ctx context.Context, command string) (string, error) {
		result, err := next(ctx, command)
		if err != nil {
			return result, err
		}

		zone, serial, ok := parseRetransfer(command)
		if !ok {
			return result, nil
		}

		matched, verr := checker.VerifySerial(ctx, zone, serial)
		if verr != nil {
			return "", fmt.Errorf("zone %s applied but verification failed: %w", zone, verr)
		}
		if !matched {
			return "", fmt.Errorf("zone %s reload reported success but is not yet serving serial %d", zone, serial)
		}
		return result, nil
	}
}

// parseRetransfer recognizes "retransfer <zone> <serial>", the shape a
// caller uses when it already knows the serial a reload should produce.
func parseRetransfer(command string) (zone string, serial uint32, ok bool) {
	fields := strings.Fields(command)
	if len(fields) != 3 || fields[0] != "retransfer" {
		return "", 0, false
	}
	n, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return "", 0, false
	}
	return fields[1], uint32(n), true
}

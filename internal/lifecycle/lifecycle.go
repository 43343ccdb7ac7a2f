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

// Package lifecycle names the small Start/Stop/Status contract that
// long-running rndcd components (the session listener, a future metrics
// server) implement, so the daemon's main loop can supervise them
// uniformly regardless of what each one actually does.
package lifecycle

import "context"

// Controller is a component with an independent start/stop lifecycle and
// an observable running state.
type Controller interface {
	Start(context.Context) error
	Stop(context.Context) error
	Status(context.Context) (ServiceStatus, error)
}

// ServiceStatus reports whether a Controller is running.
type ServiceStatus int

const (
	StatusUnknown ServiceStatus = iota
	StatusRunning
	StatusStopped
	StatusError
)

func (s ServiceStatus) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusStopped:
		return "Stopped"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

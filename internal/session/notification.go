// SPDX-License-Identifier: MPL-2.0

package session

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/invowk/msrun/internal/container"
)

// Rooms group notifications by the operation that produced them.
const (
	RoomManifest      Room = "microservice.yml"
	RoomValidate      Room = "validate"
	RoomOwner         Room = "owner"
	RoomBuild         Room = "build"
	RoomStart         Room = "start"
	RoomStop          Room = "stop"
	RoomRun           Room = "run"
	RoomHealthCheck   Room = "healthCheck"
	RoomInspect       Room = "inspect"
	RoomSubscribe     Room = "subscribe"
	RoomLogs          Room = "dockerLogs"
	RoomStats         Room = "container-stats"
	RoomRebuild       Room = "rebuild"
	RoomRebuildToggle Room = "rebuild-toggle"
)

type (
	// Room names a notification stream.
	Room string

	// Notification is one progress report of a session operation.
	Notification struct {
		Room   Room   `json:"room"`
		Notif  string `json:"notif,omitempty"`
		Status bool   `json:"status"`
		Log    string `json:"log,omitempty"`
		// Output is the typed result of a successful run.
		Output  any                     `json:"output,omitempty"`
		Ports   []container.PortMapping `json:"ports,omitempty"`
		Started bool                    `json:"started,omitempty"`
		Build   bool                    `json:"build,omitempty"`
		Built   bool                    `json:"built,omitempty"`
		Time    time.Time               `json:"time"`
	}

	// lineWriter calls emit for every complete, non-blank line written to it.
	lineWriter struct {
		mu   sync.Mutex
		buf  bytes.Buffer
		emit func(line string)
	}
)

// String returns the room name.
func (r Room) String() string { return string(r) }

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		if s := strings.TrimSpace(line); s != "" {
			w.emit(s)
		}
	}
}

// Flush emits a trailing line without newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s := strings.TrimSpace(w.buf.String()); s != "" {
		w.emit(s)
	}
	w.buf.Reset()
}

// SPDX-License-Identifier: MPL-2.0

package uiserver

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/session"
)

// maxBodyBytes bounds request bodies; manifests are the largest.
const maxBodyBytes = 1 << 20

type (
	// operation decodes a request body and returns the work to run in the
	// background. A decode error is reported to the caller as 400.
	operation func(body []byte) (func(ctx context.Context) error, error)

	instanceResponse struct {
		Image   container.ImageTag      `json:"image,omitempty"`
		ID      container.ContainerID   `json:"id,omitempty"`
		State   string                  `json:"state"`
		Ports   []container.PortMapping `json:"ports,omitempty"`
		Rebuild bool                    `json:"rebuild"`
	}

	acceptedResponse struct {
		Room     session.Room `json:"room"`
		Accepted bool         `json:"accepted"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// bearerAuth accepts the token in the Authorization header or, for
// EventSource clients that cannot set headers, in the token query parameter.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = auth[len("Bearer "):]
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleInstance(w http.ResponseWriter, _ *http.Request) {
	resp := instanceResponse{Image: s.sess.Image(), State: "none", Rebuild: s.sess.RebuildEnabled()}
	if inst, ok := s.sess.Instance(); ok {
		resp.ID, resp.State, resp.Ports = inst.ID, inst.State.String(), inst.PortBindings
		resp.Image = inst.Image
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams notifications as server-sent events named after
// their room. A new stream first receives the manifest and its validation.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}
	var c *client
	if s.Serving() {
		c = s.hub.register()
	}
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server shutting down"})
		return
	}
	defer s.hub.unregister(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()
	s.logger.Info("web client connected", "clients", s.hub.count())

	s.Go(func(ctx context.Context) { _ = s.sess.SendManifest(ctx) })

	done := s.Context().Done()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("web client disconnected")
			return
		case <-done:
			return
		case n, ok := <-c.events:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Warn("encode notification", "room", n.Room, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Room, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleRoom starts the operation of a room and answers 202 at once. The
// outcome arrives on the event stream.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room := session.Room(chi.URLParam(r, "room"))
	op, ok := s.operations()[room]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown room %q", room)})
		return
	}
	if !s.Serving() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server not serving"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	run, err := op(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.Go(func(ctx context.Context) {
		if err := run(ctx); err != nil {
			s.logger.Debug("operation failed", "room", room, "error", err)
		}
	})
	writeJSON(w, http.StatusAccepted, acceptedResponse{Room: room, Accepted: true})
}

func (s *Server) operations() map[session.Room]operation {
	sess := s.sess
	return map[session.Room]operation{
		session.RoomBuild: func(body []byte) (func(context.Context) error, error) {
			var req session.BuildRequest
			if err := decode(body, &req); err != nil {
				return nil, err
			}
			return func(ctx context.Context) error { _, err := sess.Build(ctx, req); return err }, nil
		},
		session.RoomStart: func(body []byte) (func(context.Context) error, error) {
			var req session.StartRequest
			if err := decode(body, &req); err != nil {
				return nil, err
			}
			return func(ctx context.Context) error { _, err := sess.Start(ctx, req); return err }, nil
		},
		session.RoomStop: noBody(func(ctx context.Context) error { _, err := sess.Stop(ctx); return err }),
		session.RoomRun: func(body []byte) (func(context.Context) error, error) {
			var req session.RunRequest
			if err := decode(body, &req); err != nil {
				return nil, err
			}
			if req.Action == "" {
				return nil, errors.New("action is required")
			}
			return func(ctx context.Context) error { _, err := sess.Run(ctx, req); return err }, nil
		},
		session.RoomHealthCheck: noBody(func(ctx context.Context) error { sess.HealthCheck(ctx); return nil }),
		session.RoomInspect:     noBody(sess.Inspect),
		session.RoomLogs:        noBody(sess.Logs),
		session.RoomStats:       noBody(sess.Stats),
		session.RoomValidate:    noBody(sess.Validate),
		session.RoomSubscribe: func(body []byte) (func(context.Context) error, error) {
			var req session.SubscribeRequest
			if err := decode(body, &req); err != nil {
				return nil, err
			}
			if req.Action == "" || req.Event == "" {
				return nil, errors.New("action and event are required")
			}
			return func(ctx context.Context) error { return sess.Subscribe(ctx, req) }, nil
		},
		session.RoomRebuild: func(body []byte) (func(context.Context) error, error) {
			var req *session.RebuildRequest
			if len(bytes.TrimSpace(body)) > 0 {
				req = &session.RebuildRequest{}
				if err := decode(body, req); err != nil {
					return nil, err
				}
			}
			return func(ctx context.Context) error { return sess.Rebuild(ctx, "", req) }, nil
		},
		session.RoomRebuildToggle: func(body []byte) (func(context.Context) error, error) {
			var enabled bool
			if err := json.Unmarshal(body, &enabled); err != nil {
				return nil, fmt.Errorf("expected true or false: %w", err)
			}
			return func(ctx context.Context) error { sess.SetRebuildEnabled(ctx, enabled); return nil }, nil
		},
		session.RoomManifest: func(body []byte) (func(context.Context) error, error) {
			if len(bytes.TrimSpace(body)) == 0 {
				return sess.SendManifest, nil
			}
			content := bytes.Clone(body)
			return func(ctx context.Context) error { return sess.SaveManifest(ctx, content) }, nil
		},
	}
}

func noBody(run func(ctx context.Context) error) operation {
	return func([]byte) (func(context.Context) error, error) { return run, nil }
}

// decode accepts an empty body as the zero value.
func decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/ruteri/node-bootstrap/metrics"
)

const (
	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

// CommandLifecycle guards the single command a node may act upon.
type CommandLifecycle interface {
	Accept(command string) error
	Execute(ctx context.Context, command string, run func(ctx context.Context) error)
}

// Handler serves the one-time administrative API of an unprovisioned node.
type Handler struct {
	lifecycle CommandLifecycle
	installer interfaces.Installer
	log       *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
//
// Parameters:
//   - lifecycle: Lifecycle deciding whether a command may still be accepted
//   - installer: Installer the accepted command is dispatched to
//   - log: Structured logger for operational insights
func NewHandler(lifecycle CommandLifecycle, installer interfaces.Installer, log *slog.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		installer: installer,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/provision", h.HandleProvision)
	r.Post("/api/v1/restore", h.HandleRestore)
}

// HandleProvision accepts the command that configures a brand-new node.
//
// URL format: POST /api/v1/provision
//
// Request body: JSON object, see interfaces.ProvisionCommand. The tls key is
// mandatory but may be null. The body is handed to the installer unchanged.
//
// Response: 201 with an empty JSON object once the command is accepted. The
// installer runs afterwards; its outcome is not reported to the caller.
func (h *Handler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	fields, body, err := readCommand(w, r)
	if err != nil {
		h.reject(w, interfaces.CommandProvision, err.Error())
		return
	}

	if fieldErr := ValidateProvision(fields); fieldErr != nil {
		h.reject(w, interfaces.CommandProvision, fieldErr.Error())
		return
	}

	if !h.accept(w, interfaces.CommandProvision) {
		return
	}

	h.log.Info("Provisioning node", "fqdn", fieldText(fields, "fqdn"), "revision", fieldText(fields, "revision"), "hasTLS", !isNull(fields["tls"]))
	writeEmptyJSON(w, http.StatusCreated)

	h.lifecycle.Execute(r.Context(), interfaces.CommandProvision, func(ctx context.Context) error {
		return h.installer.Provision(ctx, body)
	})
}

// HandleRestore accepts the command that configures a node from a backup.
//
// URL format: POST /api/v1/restore
//
// Request body: JSON, see interfaces.RestoreCommand.
//
// Response: 200 with an empty JSON object once the command is accepted.
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	fields, body, err := readCommand(w, r)
	if err != nil {
		h.reject(w, interfaces.CommandRestore, err.Error())
		return
	}

	if fieldErr := ValidateRestore(fields); fieldErr != nil {
		h.reject(w, interfaces.CommandRestore, fieldErr.Error())
		return
	}

	if !h.accept(w, interfaces.CommandRestore) {
		return
	}

	h.log.Info("Restoring node", "fqdn", fieldText(fields, "fqdn"), "revision", fieldText(fields, "revision"), "hasTLS", !isNull(fields["tls"]))
	writeEmptyJSON(w, http.StatusOK)

	h.lifecycle.Execute(r.Context(), interfaces.CommandRestore, func(ctx context.Context) error {
		return h.installer.Restore(ctx, body)
	})
}

func (h *Handler) reject(w http.ResponseWriter, command, reason string) {
	metrics.Commands.WithLabelValues(command, metrics.ResultInvalid).Inc()
	h.log.Warn("Invalid command", "command", command, "reason", reason)
	http.Error(w, reason, http.StatusBadRequest)
}

func (h *Handler) accept(w http.ResponseWriter, command string) bool {
	if err := h.lifecycle.Accept(command); err != nil {
		metrics.Commands.WithLabelValues(command, metrics.ResultRejected).Inc()
		http.Error(w, err.Error(), http.StatusConflict)
		return false
	}

	metrics.Commands.WithLabelValues(command, metrics.ResultAccepted).Inc()
	return true
}

// readCommand returns the top-level fields of the JSON object in the body
// together with the raw body.
func readCommand(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, []byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, nil, fmt.Errorf("request body exceeds %d bytes", maxBytesErr.Limit)
		}
		return nil, nil, fmt.Errorf("failed to read request body: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, nil, errors.New("request body must be a JSON object")
	}

	return fields, body, nil
}

// fieldText renders a field for logging: strings unquoted, anything else as
// raw JSON.
func fieldText(fields map[string]json.RawMessage, name string) string {
	var value string
	if err := json.Unmarshal(fields[name], &value); err == nil {
		return value
	}
	return string(fields[name])
}

func writeEmptyJSON(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("{}"))

	// The response must reach the caller before the installer starts.
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

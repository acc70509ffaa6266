// Package interfaces defines the core types and collaborator interfaces of the
// node bootstrap service. It provides the contract between components without
// implementation details.
package interfaces

import (
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NodeID identifies this node towards the control plane. It is derived once
// at process start and never changes afterwards.
type NodeID string

// NewNodeID returns the explicit identifier if set, otherwise the host name.
// When the host name is unavailable a random identifier is generated so the
// node can still be discovered.
func NewNodeID(explicit string) NodeID {
	if id := strings.TrimSpace(explicit); id != "" {
		return NodeID(id)
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return NodeID(hostname)
	}

	return NodeID(uuid.New().String())
}

func (id NodeID) String() string {
	return string(id)
}

// TLSCertificate is a PEM encoded certificate and key handed to the node
// together with the provisioning command.
type TLSCertificate struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// ProvisionCommand configures a brand-new node for a domain. Senders build
// commands from it; the node forwards received commands to the installer
// without decoding them.
//
// TLS is nil when the control plane has no certificate for the node yet.
type ProvisionCommand struct {
	Token          string          `json:"token"`
	AppServerURL   string          `json:"appServerUrl"`
	FQDN           string          `json:"fqdn"`
	Revision       string          `json:"revision"`
	BoxVersionsURL string          `json:"boxVersionsUrl"`
	TLS            *TLSCertificate `json:"tls"`
}

// RestoreCommand configures a node by replaying a prior backup.
type RestoreCommand struct {
	ProvisionCommand
	RestoreURL string `json:"restoreUrl"`
}

// Command names, used in logs and metrics.
const (
	CommandProvision = "provision"
	CommandRestore   = "restore"
)

var ErrNoControlPlaneURL = errors.New("no control plane url available")

// Package provisioner implements the one-time administrative API of an
// unprovisioned node.
//
// The control plane discovers a node through its announce heartbeats and then
// sends it exactly one command: provision (configure a brand-new node) or
// restore (configure the node from a backup). The node accepts the first
// well-formed command only and hands it to the installer.
//
// # Key Components
//
//   - Handler: validates commands, claims the node lifecycle and dispatches
//     the accepted command to the installer
//   - ValidateProvision / ValidateRestore: pure shape checks reporting the
//     first missing or malformed field
//   - ProvisioningClient: client for operator tooling sending commands to a node
//
// # Command Handling
//
// When a command arrives:
//
//  1. The body is parsed as a JSON object (at most 1MB)
//  2. Required fields are checked in order; the first failure answers 400
//     with a plain-text reason and has no side effects
//  3. The lifecycle is claimed atomically; a node that already accepted a
//     command answers 409
//  4. The announce loop is stopped and the caller receives 201 (provision)
//     or 200 (restore) with an empty JSON object
//  5. The installer runs in the background and the bootstrap service shuts
//     down without waiting for it
//
// Installer failures are logged only. By the time they are known the
// administrative API is already gone.
package provisioner

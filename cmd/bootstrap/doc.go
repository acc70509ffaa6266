// Package main (cmd/bootstrap) runs the bootstrap service of an unprovisioned
// node.
//
// The service announces the node to the control plane and serves the one-time
// provisioning API over HTTPS until a provision or restore command arrives.
// The accepted command is handed to the local installer daemon and the service
// exits once the installer returns.
//
// The control plane URL is taken from the first argument, from
// --control-plane-url (CONTROL_PLANE_URL) or, when neither is set, from the
// instance metadata document. Settings may also come from a dotenv file named by
// BOOTSTRAP_ENV_FILE (default /etc/node-bootstrap/env).
//
// Example usage:
//
//	node-bootstrap gencert --host=203.0.113.7
//	NODE_ENV=test node-bootstrap --announce-interval=5000 https://cp.example
package main

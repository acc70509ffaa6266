/*
Package httpserver runs the bootstrap service of an unprovisioned node.

A Server owns the two concurrent duties of the node until it is provisioned:

 1. The announce loop, telling the control plane the node exists
 2. An HTTPS listener serving the one-time provisioning API

# Endpoints

  - POST /api/v1/provision - Provision a brand-new node (201 {})
  - POST /api/v1/restore - Configure the node from a backup (200 {})

Both answer 400 with a plain-text reason for malformed commands and 409 once
a command has already been accepted.

# Lifecycle

	srv, err := httpserver.New(cfg, announcer, installer)
	if err != nil {
		return err
	}
	if err := srv.Start(controlPlaneURL); err != nil {
		return err // missing certificate, port in use, ...
	}
	<-srv.Done()

After the first accepted command the server stops the announce loop, answers
the caller, dispatches the installer in the background and shuts the listener
down. Stop is idempotent and may be called before Start.

The TLS certificate is read from the configured files when Start is called;
missing or invalid files fail Start.
*/
package httpserver

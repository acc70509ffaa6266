package interfaces

import (
	"context"
	"encoding/json"
)

// Installer performs the actual provisioning or restore work: image
// download, container creation and data restore. The bootstrap service only
// dispatches commands to it and logs the outcome.
//
// body is the accepted command exactly as the control plane sent it,
// including fields the bootstrap service does not know about.
type Installer interface {
	Provision(ctx context.Context, body json.RawMessage) error
	Restore(ctx context.Context, body json.RawMessage) error
}

// Package main (cmd/operator) sends a provisioning command to an unprovisioned
// node by hand, bypassing the control plane.
//
// It is meant for lab setups and debugging. In production the control plane
// sends the command once the node has announced itself.
//
// Example usage:
//
//	operator --instance-addr=https://203.0.113.7 provision \
//	    --token=5c8a0e5d \
//	    --app-server-url=https://cp.example \
//	    --fqdn=node.example.com \
//	    --revision=0.94.1 \
//	    --box-versions-url=https://cp.example/versions.json
//
//	operator --instance-addr=https://203.0.113.7 restore \
//	    ... \
//	    --restore-url=https://backups.example/box.tar.gz
package main

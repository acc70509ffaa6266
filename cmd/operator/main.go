package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ruteri/node-bootstrap/api/provisioner"
	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/urfave/cli/v2"
)

var flagInstanceAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "instance-addr",
	Value: "https://127.0.0.1:4443",
	Usage: "Node to send the command to",
}
var flagInsecureTLS *cli.BoolFlag = &cli.BoolFlag{
	Name:  "insecure-tls",
	Value: true,
	Usage: "Skip TLS verification (unprovisioned nodes serve a self-signed certificate)",
}

var commandFlags = []cli.Flag{
	&cli.StringFlag{Name: "token", Required: true, EnvVars: []string{"OPERATOR_TOKEN"}, Usage: "Control plane credential for the node"},
	&cli.StringFlag{Name: "app-server-url", Required: true, Usage: "Control plane base URL"},
	&cli.StringFlag{Name: "fqdn", Required: true, Usage: "Domain name the node will serve"},
	&cli.StringFlag{Name: "revision", Required: true, Usage: "Software revision to install"},
	&cli.StringFlag{Name: "box-versions-url", Required: true, Usage: "URL of the version manifest"},
	&cli.StringFlag{Name: "tls-cert-file", Usage: "PEM certificate for the node (omit to send tls: null)"},
	&cli.StringFlag{Name: "tls-key-file", Usage: "PEM private key matching --tls-cert-file"},
}

func main() {
	app := &cli.App{
		Name:  "operator",
		Usage: "Send a provisioning command to an unprovisioned node",
		Flags: []cli.Flag{
			flagInstanceAddr,
			flagInsecureTLS,
		},
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "Provision a brand-new node",
				Flags: commandFlags,
				Action: func(cCtx *cli.Context) error {
					cmd, err := provisionCommandFromFlags(cCtx)
					if err != nil {
						return err
					}
					if err := newClient(cCtx).Provision(cCtx.Context, cmd); err != nil {
						return err
					}
					fmt.Println("Provision command accepted. The node is installing.")
					return nil
				},
			},
			{
				Name:  "restore",
				Usage: "Configure a node from a backup",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "restore-url", Required: true, Usage: "URL of the backup to restore"},
				}, commandFlags...),
				Action: func(cCtx *cli.Context) error {
					cmd, err := provisionCommandFromFlags(cCtx)
					if err != nil {
						return err
					}
					restore := &interfaces.RestoreCommand{
						ProvisionCommand: *cmd,
						RestoreURL:       cCtx.String("restore-url"),
					}
					if err := newClient(cCtx).Restore(cCtx.Context, restore); err != nil {
						return err
					}
					fmt.Println("Restore command accepted. The node is restoring.")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *provisioner.ProvisioningClient {
	client := &http.Client{Timeout: 30 * time.Second}
	if cCtx.Bool(flagInsecureTLS.Name) {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}

	return &provisioner.ProvisioningClient{
		ServerAddr: cCtx.String(flagInstanceAddr.Name),
		HTTPClient: client,
	}
}

func provisionCommandFromFlags(cCtx *cli.Context) (*interfaces.ProvisionCommand, error) {
	cmd := &interfaces.ProvisionCommand{
		Token:          cCtx.String("token"),
		AppServerURL:   cCtx.String("app-server-url"),
		FQDN:           cCtx.String("fqdn"),
		Revision:       cCtx.String("revision"),
		BoxVersionsURL: cCtx.String("box-versions-url"),
	}

	certFile, keyFile := cCtx.String("tls-cert-file"), cCtx.String("tls-key-file")
	if certFile == "" && keyFile == "" {
		return cmd, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("--tls-cert-file and --tls-key-file must be used together")
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("could not read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("could not read key: %w", err)
	}
	cmd.TLS = &interfaces.TLSCertificate{Cert: string(certPEM), Key: string(keyPEM)}
	return cmd, nil
}

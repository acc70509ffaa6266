package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/ruteri/node-bootstrap/announce"
	"github.com/ruteri/node-bootstrap/cmd/flags"
	"github.com/ruteri/node-bootstrap/cryptoutils"
	"github.com/ruteri/node-bootstrap/httpserver"
	"github.com/ruteri/node-bootstrap/installer"
	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/ruteri/node-bootstrap/metadata"
	"github.com/urfave/cli/v2"
)

const defaultEnvFile = "/etc/node-bootstrap/env"

var appFlags = append([]cli.Flag{
	flags.ControlPlaneURLFlag,
	flags.AnnounceIntervalFlag,
	flags.AnnounceTimeoutFlag,
	flags.NodeEnvFlag,
	flags.ListenAddrFlag,
	flags.TLSCertFileFlag,
	flags.TLSKeyFileFlag,
	flags.NodeIDFlag,
	flags.MetadataURLFlag,
	flags.InstallerAddrFlag,
	flags.MetricsAddrFlag,
}, flags.LogFlags...)

var gencertHostsFlag = &cli.StringSliceFlag{
	Name:  "host",
	Value: cli.NewStringSlice("localhost", "127.0.0.1"),
	Usage: "DNS name or IP address to include in the certificate (repeatable)",
}

func main() {
	if err := loadEnvFile(); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:      "node-bootstrap",
		Usage:     "Announce an unprovisioned node and accept its provisioning command",
		ArgsUsage: "[control-plane-url]",
		Flags:     appFlags,
		Action:    runBootstrap,
		Commands: []*cli.Command{
			{
				Name:   "gencert",
				Usage:  "Write a self-signed certificate for the provisioning API",
				Flags:  append([]cli.Flag{gencertHostsFlag}, flags.TLSFlags...),
				Action: runGencert,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadEnvFile populates the environment from the dotenv file before flags
// read their EnvVars. Variables already set in the environment win.
func loadEnvFile() error {
	path := os.Getenv("BOOTSTRAP_ENV_FILE")
	if path == "" {
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func runBootstrap(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	controlPlaneURL, err := resolveControlPlaneURL(ctx, cCtx, logger)
	if err != nil {
		logger.Error("Could not determine control plane URL", "err", err)
		return err
	}

	nodeID := interfaces.NewNodeID(cCtx.String(flags.NodeIDFlag.Name))
	logger.Info("Bootstrapping node", "nodeID", nodeID, "controlPlane", controlPlaneURL)

	announcer := announce.New(announce.Config{
		NodeID:         nodeID,
		BaseInterval:   time.Duration(cCtx.Int64(flags.AnnounceIntervalFlag.Name)) * time.Millisecond,
		AttemptTimeout: cCtx.Duration(flags.AnnounceTimeoutFlag.Name),
		Clock:          clock.New(),
		Log:            logger,
	})

	installerClient := &installer.Client{
		ServerAddr: cCtx.String(flags.InstallerAddrFlag.Name),
	}

	server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), announcer, installerClient)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	if err := server.Start(controlPlaneURL); err != nil {
		logger.Error("Failed to start server", "err", err)
		return err
	}

	select {
	case <-server.Done():
		logger.Info("Provisioning API closed, waiting for installer")
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := server.Stop(context.Background()); err != nil {
		logger.Error("Server shutdown failed", "err", err)
	}
	server.Wait()

	logger.Info("Bootstrap service exited")
	return nil
}

// resolveControlPlaneURL prefers the positional argument, then the flag, then
// the instance metadata service.
func resolveControlPlaneURL(ctx context.Context, cCtx *cli.Context, logger *slog.Logger) (string, error) {
	if url := cCtx.Args().First(); url != "" {
		return url, nil
	}
	if url := cCtx.String(flags.ControlPlaneURLFlag.Name); url != "" {
		return url, nil
	}

	logger.Info("Discovering control plane from instance metadata", "url", cCtx.String(flags.MetadataURLFlag.Name))
	client := &metadata.Client{
		URL:        cCtx.String(flags.MetadataURLFlag.Name),
		HTTPClient: defaultMetadataHTTPClient(),
		Log:        logger,
	}
	return client.ControlPlaneURL(ctx)
}

func defaultMetadataHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func runGencert(cCtx *cli.Context) error {
	certPath := cCtx.String(flags.TLSCertFileFlag.Name)
	keyPath := cCtx.String(flags.TLSKeyFileFlag.Name)

	if err := cryptoutils.WriteSelfSignedCert(certPath, keyPath, cCtx.StringSlice(gencertHostsFlag.Name)); err != nil {
		return err
	}

	log.Printf("wrote %s and %s", certPath, keyPath)
	return nil
}

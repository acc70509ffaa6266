package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/node-bootstrap/common"
	"github.com/ruteri/node-bootstrap/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ListenAddr returns the explicit listen address or the default port for the
// node environment.
func ListenAddr(cCtx *cli.Context) string {
	if addr := cCtx.String(ListenAddrFlag.Name); addr != "" {
		return addr
	}
	if cCtx.String(NodeEnvFlag.Name) == "test" {
		return ":4443"
	}
	return ":443"
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               ListenAddr(cCtx),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		TLSCertFile:              cCtx.String(TLSCertFileFlag.Name),
		TLSKeyFile:               cCtx.String(TLSKeyFileFlag.Name),
		Log:                      logger,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ControlPlaneURLFlag = &cli.StringFlag{
	Name:    "control-plane-url",
	EnvVars: []string{"CONTROL_PLANE_URL"},
	Usage:   "control plane base URL; discovered from instance metadata when empty",
}

var AnnounceIntervalFlag = &cli.Int64Flag{
	Name:    "announce-interval",
	EnvVars: []string{"ANNOUNCE_INTERVAL"},
	Value:   60000,
	Usage:   "base announce interval in milliseconds",
}

var AnnounceTimeoutFlag = &cli.DurationFlag{
	Name:    "announce-timeout",
	EnvVars: []string{"ANNOUNCE_TIMEOUT"},
	Value:   30 * time.Second,
	Usage:   "timeout of a single announce attempt",
}

var NodeEnvFlag = &cli.StringFlag{
	Name:    "node-env",
	EnvVars: []string{"NODE_ENV"},
	Usage:   "node environment; 'test' listens on 4443 instead of 443",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	EnvVars: []string{"LISTEN_ADDR"},
	Usage:   "address to listen on for the provisioning API (default derived from node-env)",
}

var TLSCertFileFlag = &cli.StringFlag{
	Name:  "tls-cert-file",
	Value: "cert/host.cert",
	Usage: "PEM certificate served by the provisioning API",
}

var TLSKeyFileFlag = &cli.StringFlag{
	Name:  "tls-key-file",
	Value: "cert/host.key",
	Usage: "PEM private key of the provisioning API certificate",
}

var NodeIDFlag = &cli.StringFlag{
	Name:    "node-id",
	EnvVars: []string{"NODE_ID"},
	Usage:   "identifier announced to the control plane (default hostname)",
}

var MetadataURLFlag = &cli.StringFlag{
	Name:    "metadata-url",
	EnvVars: []string{"METADATA_URL"},
	Value:   "http://169.254.169.254/metadata/v1.json",
	Usage:   "instance metadata document used to discover the control plane",
}

var InstallerAddrFlag = &cli.StringFlag{
	Name:    "installer-addr",
	EnvVars: []string{"INSTALLER_ADDR"},
	Value:   "http://127.0.0.1:2020",
	Usage:   "address of the local installer daemon",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "node-bootstrap",
	Usage: "add 'service' tag to logs",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics (empty disables)",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var TLSFlags = []cli.Flag{
	TLSCertFileFlag,
	TLSKeyFileFlag,
}

package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/sidechain-registry/api"
	"github.com/ruteri/sidechain-registry/common"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
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

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		CallerAuth:               cCtx.String(CallerAuthFlag.Name),
	}
}

// ConfigFileFlag names a YAML file whose keys override flag defaults.
var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "YAML file with flag values, keyed by flag name",
	EnvVars: []string{"REGISTRY_CONFIG"},
}

// LoadConfigFile is a cli.BeforeFunc that applies ConfigFileFlag to the altsrc flags.
func LoadConfigFile(flags []cli.Flag) cli.BeforeFunc {
	load := altsrc.InitInputSourceWithContext(flags, altsrc.NewYamlSourceFromFlagFunc(ConfigFileFlag.Name))
	return func(cCtx *cli.Context) error {
		if cCtx.String(ConfigFileFlag.Name) == "" {
			return nil
		}
		return load(cCtx)
	}
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	Usage:   "registry server base URL",
	EnvVars: []string{"REGISTRY_SERVER_ADDR"},
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var CallerAuthFlag = &cli.StringFlag{
	Name:  "caller-auth",
	Value: "signature",
	Usage: "how callers are identified: 'header' (trusted proxy) or 'signature'",
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
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics, empty to disable",
}

// CommonFlags are the logging flags shared by every binary.
var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

// ServerFlags are the HTTP server flags, readable from the config file.
var ServerFlags = []cli.Flag{
	altsrc.NewStringFlag(ListenAddrFlag),
	altsrc.NewStringFlag(MetricsAddrFlag),
	altsrc.NewStringFlag(CallerAuthFlag),
	altsrc.NewBoolFlag(PprofFlag),
	altsrc.NewInt64Flag(DrainSecondsFlag),
	altsrc.NewBoolFlag(LogJsonFlag),
	altsrc.NewBoolFlag(LogDebugFlag),
	altsrc.NewBoolFlag(LogUidFlag),
	altsrc.NewStringFlag(LogServiceFlag),
}

package plugin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/elementsproject/holdinvoice/autoclean"
	"github.com/elementsproject/holdinvoice/buildlog"
	"github.com/elementsproject/holdinvoice/command"
	"github.com/elementsproject/holdinvoice/engine"
	"github.com/elementsproject/holdinvoice/hostrpc"
	"github.com/elementsproject/holdinvoice/rpcserver"
)

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it write to the same backend. Until
// InitLogRotator has run, the backend writes to stderr only.
var (
	backendLog, logWriter = buildlog.NewBackendLogger()

	logRotator *rotator.Rotator

	PlugLog = buildlog.NewSubLogger("PLUG", backendLog.Logger)
	RpcbLog = buildlog.NewSubLogger("RPCB", backendLog.Logger)
	EngnLog = buildlog.NewSubLogger("ENGN", backendLog.Logger)
	CmdsLog = buildlog.NewSubLogger("CMDS", backendLog.Logger)
	AuclLog = buildlog.NewSubLogger("AUCL", backendLog.Logger)
	RpcsLog = buildlog.NewSubLogger("RPCS", backendLog.Logger)
)

// log is the plugin package's own subsystem logger, following the same
// package-level-var convention UseLogger gives every other package.
var log = PlugLog

var subsystemLoggers = map[string]btclog.Logger{
	"PLUG": PlugLog,
	"RPCB": RpcbLog,
	"ENGN": EngnLog,
	"CMDS": CmdsLog,
	"AUCL": AuclLog,
	"RPCS": RpcsLog,
}

// Initialize package-global logger variables, the way daemon/log.go wires
// every subsystem's UseLogger at process start.
func init() {
	engine.UseLogger(EngnLog)
	command.UseLogger(CmdsLog)
	autoclean.UseLogger(AuclLog)
	rpcserver.UseLogger(RpcsLog)
	hostrpc.UseLogger(RpcbLog)
}

// InitLogRotator initializes the logging rotator to write logs to logFile,
// rolling files in the same directory. Must run before any subsystem
// logger is used if file logging is desired; otherwise logs go to stderr.
func InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.RotatorPipe = pw
	logRotator = r

	return nil
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for every subsystem logger.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const analysisLogName = "analysis.log"

type logOptions struct {
	Verbose bool
	// Quiet raises the console threshold to errors while a live dashboard owns the terminal.
	Quiet bool
}

// newRunLogger tees a console logger on stderr with a JSON log file in the output
// directory. The returned func flushes and closes the file.
func newRunLogger(outputDir string, opts logOptions) (*zap.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	consoleLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Verbose {
		fileLevel.SetLevel(zap.DebugLevel)
		consoleLevel.SetLevel(zap.DebugLevel)
	}
	if opts.Quiet {
		consoleLevel.SetLevel(zap.ErrorLevel)
	}

	path := filepath.Join(outputDir, analysisLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	consoleCfg := cfg.EncoderConfig
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), consoleLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(f), fileLevel),
	)
	log := zap.New(core, zap.AddCaller())
	restore := zap.ReplaceGlobals(log)

	closeFn := func() {
		_ = log.Sync()
		restore()
		_ = f.Close()
	}
	return log, closeFn, nil
}

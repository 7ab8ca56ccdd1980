// Package xlog holds the process-wide zap logger used by every netpipe package.
package xlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeKey         = "time"
	EncodingJson    = "json"
	EncodingConsole = "console"
	FileMode        = "file"
	ConsoleMode     = "console"
)

var (
	levels = map[string]zapcore.Level{
		"debug": zap.DebugLevel,
		"info":  zap.InfoLevel,
		"error": zap.ErrorLevel,
		"warn":  zap.WarnLevel,
		"panic": zap.PanicLevel,
		"fatal": zap.FatalLevel,
	}

	mu     sync.RWMutex
	logger *zap.Logger
)

// Conf configures the global logger. The json tags follow go-zero's conf
// loader so the block can be embedded in a service config file.
type Conf struct {
	ServiceName string `json:",optional"`
	// Path is the log directory, used in file mode.
	Path string `json:",optional"`
	// Filename is the log file name, used in file mode.
	Filename string `json:",optional"`
	// Mode is "file" or "console".
	Mode string `json:",default=console,options=file|console"`
	// Encoding is "json" or "console".
	Encoding   string `json:",default=console,options=json|console"`
	TimeFormat string `json:",optional"`
	// Level is one of debug, info, warn, error, panic, fatal.
	Level    string `json:",default=info"`
	Compress bool   `json:",optional"`
	KeepDays int    `json:",optional"`
	MaxSize  int    `json:",optional"`
}

func init() {
	conf := Conf{}
	defaultConf(&conf)
	logger = build(conf)
}

// Load rebuilds the global logger from conf.
func Load(conf Conf) error {
	defaultConf(&conf)
	if _, ok := levels[conf.Level]; !ok {
		return fmt.Errorf("xlog: unknown level %q", conf.Level)
	}

	l := build(conf)

	mu.Lock()
	defer mu.Unlock()

	_ = logger.Sync()
	logger = l
	return nil
}

// Use installs l as the global logger. Tests use it with zap.NewNop or an
// observer core.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()

	logger = l
}

// Write returns the global logger.
func Write() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return logger
}

// Named returns the global logger tagged with a component field.
func Named(component string) *zap.Logger {
	return Write().With(zap.String("component", component))
}

// Sync flushes buffered log entries.
func Sync() error {
	return Write().Sync()
}

func build(conf Conf) *zap.Logger {
	opts := []zap.Option{
		zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel),
	}
	if len(conf.ServiceName) > 0 {
		opts = append(opts, zap.Fields(zap.String("service", conf.ServiceName)))
	}

	var write zapcore.WriteSyncer
	switch conf.Mode {
	case FileMode:
		write = fileSyncer(conf)
	default:
		write = zapcore.Lock(os.Stdout)
	}

	level, ok := levels[conf.Level]
	if !ok {
		level = zap.InfoLevel
	}
	return zap.New(zapcore.NewCore(encoder(conf), write, level), opts...)
}

func fileSyncer(conf Conf) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename: filepath.Join(conf.Path, conf.Filename),
		Compress: conf.Compress,
		MaxAge:   conf.KeepDays,
		MaxSize:  conf.MaxSize,
	})
}

func encoder(conf Conf) zapcore.Encoder {
	econf := zap.NewProductionEncoderConfig()
	econf.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(conf.TimeFormat))
	}
	econf.EncodeDuration = zapcore.StringDurationEncoder
	if conf.Level == "debug" && conf.Mode != FileMode {
		econf.EncodeLevel = zapcore.LowercaseColorLevelEncoder
	} else {
		econf.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	econf.TimeKey = timeKey

	if conf.Encoding == EncodingJson {
		return zapcore.NewJSONEncoder(econf)
	}
	return zapcore.NewConsoleEncoder(econf)
}

func defaultConf(conf *Conf) {
	if len(conf.Path) == 0 {
		path, _ := os.Getwd()
		conf.Path = filepath.Join(path, "logs")
	}
	if len(conf.Level) == 0 {
		conf.Level = "info"
	}
	if len(conf.Mode) == 0 {
		conf.Mode = ConsoleMode
	}
	if len(conf.Filename) == 0 {
		conf.Filename = "netpipe.log"
	}
	if len(conf.Encoding) == 0 {
		conf.Encoding = EncodingConsole
	}
	if len(conf.TimeFormat) == 0 {
		conf.TimeFormat = "2006-01-02 15:04:05.000"
	}
}

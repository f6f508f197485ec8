package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// LogLevel represents the verbosity level of logging
type LogLevel int

const (
	// LogLevelError only logs error messages
	LogLevelError LogLevel = iota
	// LogLevelInfo logs info and error messages
	LogLevelInfo
	// LogLevelDebug logs debug, info, and error messages
	LogLevelDebug
)

var (
	// Global logger instance
	instance *Logger
	once     sync.Once

	// Environment file path
	envFile  = ".env"
	envMutex sync.Mutex

	// Directory all log files are written to
	logDir   = "logs"
	logDirMu sync.Mutex
)

type Logger struct {
	level LogLevel
	file  *os.File
}

// SetEnvFile overrides the .env file consulted for LOG_LEVEL and resets
// the singleton so the next GetLogger call re-reads it.
func SetEnvFile(path string) {
	envMutex.Lock()
	defer envMutex.Unlock()

	envFile = path
	instance = nil
	once = sync.Once{}

	if err := godotenv.Load(path); err != nil {
		log.Printf("Warning: Error loading %s file: %v", path, err)
	}
}

// GetLogger returns the singleton logger instance
func GetLogger() *Logger {
	once.Do(func() {
		file, err := CreateLogFile("tracker.log")
		if err != nil {
			log.Printf("Error opening log file: %v", err)
			return
		}

		instance = &Logger{
			level: getLogLevelFromEnv(),
			file:  file,
		}

		log.Printf("[INFO] Logger initialized with level: %s", FormatLogLevel(instance.level))
	})
	return instance
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LogLevelError, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.log(LogLevelInfo, format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.log(LogLevelDebug, format, args...)
	}
}

func (l *Logger) SetLogLevel(level LogLevel) {
	l.level = level
	l.Info("Log level changed to: %s", FormatLogLevel(level))
}

func (l *Logger) GetLogLevel() LogLevel {
	return l.level
}

func FormatLogLevel(level LogLevel) string {
	switch level {
	case LogLevelError:
		return "ERROR"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", level)
	}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	logMessage := fmt.Sprintf("[%s] %s\n", FormatLogLevel(level), message)

	if l.file != nil {
		if _, err := l.file.WriteString(logMessage); err != nil {
			log.Printf("Error writing to log file: %v", err)
		}
	}

	log.Print(logMessage)
}

func getLogLevelFromEnv() LogLevel {
	envMutex.Lock()
	defer envMutex.Unlock()

	_ = godotenv.Load(envFile)

	switch os.Getenv("LOG_LEVEL") {
	case "ERROR":
		return LogLevelError
	case "DEBUG":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// SetLogDirectory changes where log files are created.
func SetLogDirectory(dir string) {
	logDirMu.Lock()
	defer logDirMu.Unlock()

	logDir = dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Failed to create log directory: %v", err)
	}
}

// CreateLogFile opens (appending) a log file inside the configured log
// directory, creating the directory if needed.
func CreateLogFile(filename string) (*os.File, error) {
	logDirMu.Lock()
	dir := logDir
	logDirMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %v", err)
	}

	logPath := filepath.Join(dir, filename)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %v", logPath, err)
	}

	return file, nil
}

// CreateMultiWriter returns a writer that duplicates writes to the file
// and stdout.
func CreateMultiWriter(file *os.File) io.Writer {
	return io.MultiWriter(file, os.Stdout)
}

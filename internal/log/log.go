//nolint:revive // Package name kept as "log" for stable internal imports.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	debugMode = false

	fileMu  sync.Mutex
	logFile *os.File
)

// SetDebugMode enables or disables debug logging
func SetDebugMode(enabled bool) {
	debugMode = enabled
}

// SetLogFile mirrors all log output to the given file. Used in daemon mode so
// `hackforge logs` can follow the server output.
func SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	fileMu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	fileMu.Unlock()
	return nil
}

// CloseLogFile closes the log file sink if one is set
func CloseLogFile() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// writeFile appends a plain (uncolored) line to the log file sink
func writeFile(level, message string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(logFile, "%s [%s] %s\n", ts, level, message)
}

// Debug logs debug messages when debug mode is enabled
func Debug(format string, elem ...any) {
	if debugMode {
		msg := fmt.Sprintf(format, elem...)
		fmt.Println(color.CyanString("[DEBUG] ") + msg)
		writeFile("DEBUG", msg)
	}
}

// DebugH2 logs indented debug messages when debug mode is enabled
func DebugH2(format string, elem ...any) {
	if debugMode {
		msg := fmt.Sprintf(format, elem...)
		fmt.Println(color.CyanString("  [DEBUG] ") + msg)
		writeFile("DEBUG", msg)
	}
}

// DebugH3 logs more indented debug messages when debug mode is enabled
func DebugH3(format string, elem ...any) {
	if debugMode {
		msg := fmt.Sprintf(format, elem...)
		fmt.Println(color.CyanString("    [DEBUG] ") + msg)
		writeFile("DEBUG", msg)
	}
}

// Fatal logs an error message and exits the program
func Fatal(args ...interface{}) {
	var message string

	switch len(args) {
	case 0:
		message = "fatal error occurred"
	case 1:
		switch v := args[0].(type) {
		case error:
			message = v.Error()
		case string:
			message = v
		default:
			message = fmt.Sprintf("%v", v)
		}
	default:
		// If first argument is a string, use as format
		if format, ok := args[0].(string); ok {
			message = fmt.Sprintf(format, args[1:]...)
		} else {
			message = fmt.Sprint(args...)
		}
	}

	lines := strings.Split(strings.TrimSpace(message), "\n")
	for _, line := range lines {
		fmt.Fprintln(os.Stderr, color.RedString("[x] ")+line)
		writeFile("FATAL", line)
	}
	os.Exit(1)
}

// Error logs an error message to stderr
func Error(str string, elem ...any) {
	msg := fmt.Sprintf(str, elem...)
	fmt.Fprintln(os.Stderr, color.RedString("[x] ")+msg)
	writeFile("ERROR", msg)
}

// ErrorH2 logs an indented error message to stderr
func ErrorH2(format string, elem ...any) {
	msg := fmt.Sprintf(format, elem...)
	fmt.Fprintln(os.Stderr, color.RedString("  [x] ")+msg)
	writeFile("ERROR", msg)
}

// Info logs an informational message
func Info(format string, elem ...any) {
	msg := fmt.Sprintf(format, elem...)
	fmt.Println(color.BlueString("[x] ") + msg)
	writeFile("INFO", msg)
}

// InfoH2 logs an indented informational message
func InfoH2(format string, elem ...any) {
	msg := fmt.Sprintf(format, elem...)
	fmt.Println(color.GreenString("  [x] ") + msg)
	writeFile("INFO", msg)
}

// InfoH3 logs a double-indented informational message
func InfoH3(format string, elem ...any) {
	msg := fmt.Sprintf(format, elem...)
	fmt.Println(color.YellowString("    [x] ") + msg)
	writeFile("INFO", msg)
}

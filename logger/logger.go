package logger

import (
	"io"
	"log"
	"os"
)

var (
	LogFile *os.File
	Logger  *log.Logger
)

// Init sends log output to stdout and to the file at logFilePath. An empty
// path logs to stdout only.
func Init(logFilePath string) error {
	var out io.Writer = os.Stdout
	if logFilePath != "" {
		// Create or append to the log file
		file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		LogFile = file
		out = io.MultiWriter(os.Stdout, file)
	}

	Logger = log.New(out, "", log.LstdFlags|log.Lshortfile)
	log.SetOutput(out)
	return nil
}

// Close closes the log file opened by Init.
func Close() {
	if LogFile != nil {
		_ = LogFile.Close()
		LogFile = nil
	}
}

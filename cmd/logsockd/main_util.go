package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logWriter prefixes every operational log line with a timestamp.
type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf("[%s] %s", timestamp, string(p))
	if _, err := w.writer.Write([]byte(message)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// setupLogging sends the operational log to stderr and a rotating file.
// Ingested records never go through here.
func setupLogging(logFilePath string) {
	if logFilePath == "" {
		return
	}

	fileLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}

	log.SetOutput(&logWriter{writer: io.MultiWriter(os.Stderr, fileLogger)})
	log.SetFlags(0)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func removePIDFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("logsockd at=pid-file.remove err=%q\n", err)
	}
}

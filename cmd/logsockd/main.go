package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fanatic/logsockd/logsockd"
)

func main() {
	configPath := flag.String("config", os.Getenv("LOGSOCKD_CONFIG"), "Path to TOML config file")
	flag.Parse()

	cfg, err := logsockd.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("logsockd at=config err=%q\n", err)
	}

	s, err := start(cfg)
	if err != nil {
		log.Fatalf("logsockd at=server err=%q\n", err)
	}

	if err := run(s, cfg); err != nil {
		s.LogError(fmt.Sprintf("unexpected error: %v", err))
	}

	if err := s.Shutdown(); err != nil {
		log.Printf("logsockd at=server.shutdown err=%q\n", err)
	}
	removePIDFile(cfg.PIDFile)
	log.Printf("logsockd at=server.finish\n")
}

// start brings the server up and only then opens the operational log file,
// so a refused startup leaves nothing behind on disk.
func start(cfg logsockd.Config) (*logsockd.Server, error) {
	s, err := logsockd.NewServer(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogFile)
	return s, nil
}

// run blocks until a termination signal arrives or the server shuts itself
// down.
func run(s *logsockd.Server, cfg logsockd.Config) error {
	if err := writePIDFile(cfg.PIDFile); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		log.Printf("logsockd at=server.exiting sig=%q\n", sig.String())
	case <-s.Done():
		log.Printf("logsockd at=server.exiting reason=internal err=%q\n", fmt.Sprint(s.Err()))
	}
	return nil
}

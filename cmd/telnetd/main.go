package main

import (
	"flag"
	"log"
	"net"

	"telnetd/config"
	"telnetd/session"
	"telnetd/telnet"
)

func main() {
	configPath := flag.String("config", "", "YAML config file path (optional; built-in defaults are used if omitted)")
	flag.Parse()

	cfg := config.Default()
	var updates <-chan config.Config
	if *configPath != "" {
		var err error
		updates, _, err = config.Watch(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = <-updates
	}

	log.Printf("telnetd")
	log.Printf("Bind address: %s", cfg.BindAddress)
	log.Printf("ANSI escape handling: %v", cfg.HandleANSIEscapeSequences)
	log.Printf("Idle timeout: %s (sweep %q)", cfg.IdleTimeout, cfg.SweepSchedule)

	mgr := session.NewManager()
	if err := mgr.StartSweep(cfg.SweepSchedule, cfg.IdleTimeout); err != nil {
		log.Fatalf("Failed to start idle sweep: %v", err)
	}

	if updates != nil {
		go watchConfig(mgr, updates)
	}

	ln, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.BindAddress, err)
	}
	defer ln.Close()

	log.Printf("Listening on %s", ln.Addr())
	stateConfig := telnet.StateConfig{HandleANSIEscapeSequences: cfg.HandleANSIEscapeSequences}

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("Accept error: %v", err)
			continue
		}
		go handleConnection(mgr, conn, stateConfig)
	}
}

// watchConfig only ever restarts the idle sweep with the reloaded schedule
// and idle timeout; a new bind
// address in a reloaded file takes effect on the next restart, same as the
// teacher's own config reload.
func watchConfig(mgr *session.Manager, updates <-chan config.Config) {
	for cfg := range updates {
		log.Printf("Config reloaded, restarting idle sweep (timeout=%s schedule=%q)", cfg.IdleTimeout, cfg.SweepSchedule)
		mgr.StopSweep()
		if err := mgr.StartSweep(cfg.SweepSchedule, cfg.IdleTimeout); err != nil {
			log.Printf("Failed to restart idle sweep: %v", err)
		}
	}
}

// handleConnection runs the demo echo protocol over one accepted
// connection: every line the client sends is echoed back prefixed with
// "You sent: ", until the client disconnects or Listen hits a fatal error.
func handleConnection(mgr *session.Manager, conn net.Conn, cfg telnet.StateConfig) {
	sess, id, err := mgr.Accept(conn, cfg)
	if err != nil {
		log.Printf("Failed to accept connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	defer mgr.Remove(id)

	log.Printf("Session %s connected from %s", id, sess.RemoteAddr())

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- sess.Listen()
	}()

	for {
		line, err := sess.ReadLineWaiting()
		if err != nil {
			log.Printf("Session %s: read error: %v", id, err)
			return
		}

		mgr.Touch(id)

		if _, err := sess.Write([]byte("You sent: " + line)); err != nil {
			log.Printf("Session %s: write error: %v", id, err)
			return
		}
		if err := sess.Flush(); err != nil {
			log.Printf("Session %s: flush error: %v", id, err)
			return
		}

		select {
		case err := <-listenErr:
			log.Printf("Session %s: listener stopped: %v", id, err)
			return
		default:
		}
	}
}

package main

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"commlink/config"
	"commlink/server"
	"commlink/store"
)

var (
	host       = kingpin.Flag("host", "Listen host (defaults to all interfaces).").String()
	port       = kingpin.Flag("port", "Listen port.").Short('p').Default("0").Int()
	adminAddr  = kingpin.Flag("admin", "HTTP admin listen address, e.g. 127.0.0.1:8080. Empty disables it.").String()
	storePath  = kingpin.Flag("store", "Path of the sqlite journal. \"none\" disables journaling.").String()
	fileLimit  = kingpin.Flag("file-chunk-limit", "Maximum declared chunk count per file transfer.").Default("0").Int()
	audioLimit = kingpin.Flag("audio-chunk-limit", "Maximum declared chunk count per audio transfer.").Default("0").Int()
)

func main() {
	kingpin.Parse()

	cfg := config.Load()
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *fileLimit != 0 {
		cfg.FileChunkLimit = *fileLimit
	}
	if *audioLimit != 0 {
		cfg.AudioChunkLimit = *audioLimit
	}

	var journal *store.Store
	if cfg.StorePath != "" && cfg.StorePath != "none" {
		var err error
		journal, err = store.Open(cfg.StorePath)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer journal.Close()
	}

	srv := server.New(journal, &server.ServerConfig{
		FileChunkLimit:  cfg.FileChunkLimit,
		AudioChunkLimit: cfg.AudioChunkLimit,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
		QueueDepth:      cfg.QueueDepth,
	})

	if err := srv.Open(cfg.Host, cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	if cfg.AdminAddr != "" {
		go func() {
			log.Printf("Admin API listening on %s", cfg.AdminAddr)
			if err := http.ListenAndServe(cfg.AdminAddr, srv.AdminHandler()); err != nil {
				log.Printf("Admin API stopped: %v", err)
			}
		}()
	}

	go startControlSocket(srv, cfg.ControlSocket)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)
	srv.Shutdown()
	os.Remove(cfg.ControlSocket)
}

func startControlSocket(srv *server.Server, path string) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	log.Printf("Control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn, path)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, socketPath string) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for the response to be sent
		time.Sleep(100 * time.Millisecond)

		log.Printf("Shutdown requested over control socket")
		srv.Shutdown()
		os.Remove(socketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}

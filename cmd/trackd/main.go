package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ordertrack/config"
	"ordertrack/engine"
	"ordertrack/messaging"
	"ordertrack/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "ordertrack.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("trackd", Version)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Messaging client (optional bus ingress and mirror)
	var msgClient *messaging.Client
	var bus engine.Bus
	if cfg.Messaging.Backend != "" {
		msgClient = messaging.NewClient(&cfg.Messaging)
		if err := msgClient.Connect(); err != nil {
			log.Printf("trackd: messaging connect failed (%v)", err)
		} else {
			log.Printf("trackd: messaging connected (%s)", msgClient.Backend())
		}
		defer msgClient.Close()
		bus = msgClient
	} else {
		log.Printf("trackd: messaging disabled")
	}

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		MsgClient:  bus,
	})
	eng.Start()
	defer eng.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("trackd: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("trackd: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		reloadMessaging(*configPath, cfg, msgClient)
	}

	log.Printf("trackd: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("trackd: stopped")
}

// reloadMessaging re-reads the config file and reconnects the bus with the
// new connection settings. Switching backends or topics needs a restart.
func reloadMessaging(path string, cfg *config.Config, client *messaging.Client) {
	if client == nil {
		log.Printf("trackd: reload ignored, messaging disabled")
		return
	}
	next, err := config.Load(path)
	if err != nil {
		log.Printf("trackd: reload: %v", err)
		return
	}
	cur := cfg.Messaging
	if next.Messaging.Backend != cur.Backend ||
		next.Messaging.IngestTopic != cur.IngestTopic ||
		next.Messaging.MirrorTopic != cur.MirrorTopic {
		log.Printf("trackd: reload: backend or topic change requires a restart")
		return
	}

	cfg.Lock()
	cfg.Messaging = next.Messaging
	cfg.Unlock()
	if err := client.Reconfigure(&next.Messaging); err != nil {
		log.Printf("trackd: messaging reconfigure failed: %v", err)
		return
	}
	log.Printf("trackd: messaging reconfigured (%s)", client.Backend())
}

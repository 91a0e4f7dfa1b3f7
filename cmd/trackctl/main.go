package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ordertrack/client"
	"ordertrack/config"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "ordertrack.yaml", "path to config file")
	server := flag.String("server", "", "websocket URL of the tracking server (overrides config)")
	orderID := flag.String("order", "", "order to watch or publish for")
	subscriber := flag.String("subscriber", "", "subscriber id for watch mode (default random)")
	publish := flag.Bool("publish", false, "publish simulated positions instead of watching")
	steps := flag.Int("steps", 20, "number of simulated fixes")
	interval := flag.Duration("interval", 2*time.Second, "time between simulated fixes")
	fromLat := flag.Float64("from-lat", 52.3676, "simulated route start latitude")
	fromLon := flag.Float64("from-lon", 4.9041, "simulated route start longitude")
	toLat := flag.Float64("to-lat", 52.3791, "simulated route end latitude")
	toLon := flag.Float64("to-lon", 4.9003, "simulated route end longitude")
	flag.Parse()

	if *showVersion {
		fmt.Println("trackctl", Version)
		return
	}
	if *orderID == "" {
		log.Fatalf("-order is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	url := cfg.Client.ServerURL
	if *server != "" {
		url = *server
	}

	sup := client.NewSupervisor(client.SupervisorConfig{
		Dialer: &client.WebSocketDialer{
			URL:              url,
			HandshakeTimeout: cfg.Client.HandshakeTimeout,
			WriteWait:        cfg.Broker.WriteWait,
			ReadWait:         cfg.Client.ReadWait,
		},
		Backoff: client.BackoffFromConfig(cfg.Client.Backoff),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *publish {
		src := &client.SimulatedSource{
			FromLat: *fromLat, FromLon: *fromLon,
			ToLat: *toLat, ToLon: *toLon,
			Steps:    *steps,
			Interval: *interval,
			Accuracy: 8,
		}
		pub := client.NewPublisher(sup, *orderID, src, nil)
		sup.Start(ctx)
		defer sup.Stop()

		err := pub.Run(ctx)
		s := pub.Stats()
		log.Printf("trackctl: published %d, dropped %d, invalid %d, rejected %d", s.Sent, s.Dropped, s.Invalid, s.Rejected)
		if err != nil && ctx.Err() == nil {
			log.Printf("trackctl: %v", err)
			os.Exit(1)
		}
		return
	}

	id := *subscriber
	if id == "" {
		id = uuid.NewString()
	}
	tracker := client.NewTracker(sup, client.TrackerConfig{MaxHistory: cfg.Tracking.MaxHistory})
	session, err := tracker.Subscribe(*orderID, id, client.DisplayFunc(render))
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	sup.Start(ctx)
	defer sup.Stop()

	log.Printf("trackctl: watching %s as %s", *orderID, id)
	if err := session.WaitActive(ctx); err != nil && ctx.Err() == nil {
		log.Printf("trackctl: %s: %s", err, session.Info().RejectReason)
		tracker.Close()
		os.Exit(1)
	}
	<-ctx.Done()
	tracker.Close()
}

func render(s client.TrackingState) {
	if s.Current == nil {
		fmt.Printf("[%s] waiting for first position\n", s.Status)
		return
	}
	c := s.Current
	fmt.Printf("[%s] %.5f,%.5f at %s (%d points)\n",
		s.Status, c.Latitude, c.Longitude, c.Time().Format(time.TimeOnly), len(s.History))
}

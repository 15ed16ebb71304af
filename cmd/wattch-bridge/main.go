package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"wattchbridge/internal/api"
	"wattchbridge/internal/auth"
	"wattchbridge/internal/bridge"
	"wattchbridge/internal/config"
	"wattchbridge/internal/events"
	"wattchbridge/internal/feed"
	"wattchbridge/internal/forwarder"
	"wattchbridge/internal/mqtt"
	"wattchbridge/internal/storage"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

const eventCapacity = 200

func main() {
	envFile := pflag.String("env-file", ".env", "Path to the .env configuration file (optional)")
	apiAddr := pflag.String("api-addr", "", "Status API listen address, overrides API_ADDR")
	debug := pflag.Bool("debug", true, "Enable debug logging, overrides DEBUG")
	mintToken := pflag.String("mint-token", "", "Print a status API token for `subject` and exit")
	pflag.Parse()

	// Load configuration from .env file and environment
	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if pflag.CommandLine.Changed("api-addr") {
		if err := cfg.SetAPIAddr(*apiAddr); err != nil {
			log.Fatalf("Invalid --api-addr: %v", err)
		}
	}
	if pflag.CommandLine.Changed("debug") {
		cfg.SetDebug(*debug)
	}

	if *mintToken != "" {
		manager, err := auth.NewJWTManager(cfg.APIJWTSecret(), cfg.APIJWTExpiration())
		if err != nil {
			log.Fatalf("Cannot mint token: %v (set %s)", err, config.EnvAPIJWTSecret)
		}
		token, err := manager.GenerateToken(*mintToken)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	debugOut := io.Discard
	if cfg.Debug() {
		debugOut = os.Stdout
	}
	debugLog := log.New(debugOut, "", log.LstdFlags)
	debugLog.Printf("Configuration loaded: %s", cfg)

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Outcome journal
	var journal storage.Journal
	if path := cfg.JournalPath(); path != "" {
		j, err := storage.NewBoltJournal(path)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer j.Close()
		journal = j
		logger.Printf("[Journal] Recording outcomes to %s", path)
	}

	// MQTT mirror (and feed, when selected)
	var mqttClient *mqtt.Client
	var publisher *mqtt.Publisher
	if cfg.MQTTBroker() != "" {
		mqttClient, err = connectMQTT(cfg, logger)
		if err != nil {
			if cfg.FeedSource() == config.FeedMQTT {
				log.Fatalf("MQTT feed unavailable: %v", err)
			}
			logger.Printf("[MQTT] Mirror disabled: %v", err)
			mqttClient = nil
		} else {
			publisher = mqtt.NewPublisher(mqttClient, mqtt.NewDiscoveryManager(mqttClient, logger), logger)
			if err := publisher.PublishAvailability(true); err != nil {
				logger.Printf("[MQTT] Failed to publish availability: %v", err)
			}
		}
	}

	bridgeCfg := bridge.Config{
		Client:         forwarder.NewClient(cfg.APIURL(), cfg.RequestTimeout()),
		UserDatabase:   cfg.UserDatabase(),
		FeedPath:       cfg.FeedPath(),
		SyncInterval:   cfg.SyncInterval(),
		StatusInterval: cfg.StatusInterval(),
		ResetInterval:  cfg.ResetInterval(),
		Events:         events.NewStore(eventCapacity),
		Journal:        journal,
		JournalMax:     cfg.JournalMax(),
		Logger:         logger,
		Debug:          debugLog,
	}
	if publisher != nil {
		bridgeCfg.Mirror = publisher
	}
	b := bridge.New(bridgeCfg)

	source, err := newSource(ctx, cfg, mqttClient, b.FeedError, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	snapshots := make(chan feed.Snapshot)

	g.Go(func() error { return source.Run(gctx, snapshots) })
	g.Go(func() error { return b.Run(gctx, snapshots) })
	g.Go(func() error { return b.RunReporter(gctx) })
	g.Go(func() error { return b.RunResetChecker(gctx) })

	if addr := cfg.APIAddr(); addr != "" {
		srv, err := newAPIServer(cfg, b)
		if err != nil {
			log.Fatalf("Failed to create status API: %v", err)
		}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		logger.Printf("Status API listening on %s", addr)
		printAccessURLs(addr)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutting down WATTch bridge...")
		return nil
	})

	logger.Println("✓ WATTch bridge is running!")
	logger.Println("Press Ctrl+C to stop.")

	runErr := g.Wait()

	if publisher != nil {
		if err := publisher.PublishAvailability(false); err != nil {
			logger.Printf("[MQTT] Failed to publish availability: %v", err)
		}
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}

	logger.Println(b.FinalStats())

	if runErr != nil && ctx.Err() == nil {
		log.Printf("Bridge stopped: %v", runErr)
		if journal != nil {
			journal.Close()
		}
		os.Exit(1)
	}
}

// connectMQTT creates and connects the MQTT client
func connectMQTT(cfg *config.Config, logger *log.Logger) (*mqtt.Client, error) {
	client, err := mqtt.New(mqtt.Config{
		Broker:   cfg.MQTTBroker(),
		ClientID: cfg.MQTTClientID(),
		Username: cfg.MQTTUsername(),
		Password: cfg.MQTTPassword(),
		Prefix:   cfg.MQTTPrefix(),
		UseTLS:   cfg.MQTTUseTLS(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// newSource builds the configured change feed
func newSource(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, onError feed.ErrorHandler, logger *log.Logger) (feed.Source, error) {
	switch cfg.FeedSource() {
	case config.FeedMQTT:
		if mqttClient == nil {
			return nil, fmt.Errorf("%s=%s requires %s", config.EnvFeedSource, config.FeedMQTT, config.EnvMQTTBroker)
		}
		return feed.NewMQTTSource(mqttClient, onError, logger), nil
	default:
		path := cfg.ServiceAccountPath()
		tokens, err := feed.ServiceAccountTokenSource(ctx, path)
		if err != nil {
			log.Printf("ERROR: %s not found or unreadable!", path)
			log.Printf("Please download it from Firebase Console and place it at %s", path)
			return nil, err
		}
		return feed.NewFirebaseSource(feed.FirebaseConfig{
			DatabaseURL: cfg.DatabaseURL(),
			Path:        cfg.FeedPath(),
			TokenSource: tokens,
			OnError:     onError,
		}, logger), nil
	}
}

// newAPIServer builds the status API HTTP server
func newAPIServer(cfg *config.Config, b *bridge.Bridge) (*http.Server, error) {
	var manager *auth.JWTManager
	if secret := cfg.APIJWTSecret(); secret != "" {
		m, err := auth.NewJWTManager(secret, cfg.APIJWTExpiration())
		if err != nil {
			return nil, err
		}
		manager = m
	} else {
		fmt.Println("WARNING: Status API authentication is DISABLED!")
	}

	server := api.NewServer(b, cfg, manager)
	return &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// printBanner prints the startup configuration summary
func printBanner(cfg *config.Config) {
	rule := strings.Repeat("=", 50)
	fmt.Println(rule)
	fmt.Printf("WATTch Bridge %s Starting...\n", Version)
	fmt.Println(rule)
	fmt.Println("Configuration:")
	fmt.Println("  Laravel API:", cfg.APIURL())
	fmt.Println("  Firebase DB:", cfg.DatabaseURL())
	fmt.Println("  User DB:", cfg.UserDatabase())
	fmt.Println("  Sync Interval:", cfg.SyncInterval().Milliseconds(), "ms")
	fmt.Printf("  Feed: %s (%s)\n", cfg.FeedSource(), cfg.FeedPath())
	fmt.Println(rule)
}

// getLocalIPs returns all local IP addresses
func getLocalIPs() []string {
	var ips []string

	interfaces, err := net.Interfaces()
	if err != nil {
		return ips
	}

	for _, iface := range interfaces {
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			// Skip loopback and IPv6
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}

			ips = append(ips, ip.String())
		}
	}

	return ips
}

// printAccessURLs prints the status URLs reachable on this host
func printAccessURLs(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		fmt.Printf("  http://%s/api/status\n", net.JoinHostPort(host, port))
		return
	}

	ips := getLocalIPs()
	if len(ips) == 0 {
		fmt.Printf("  http://localhost:%s/api/status\n", port)
		return
	}
	for _, ip := range ips {
		fmt.Printf("  http://%s:%s/api/status\n", ip, port)
	}
}

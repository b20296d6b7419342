package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/auranym/dicechat/internal/config"
	"github.com/auranym/dicechat/internal/message"
	"github.com/auranym/dicechat/internal/session"
	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/internal/transport/natstp"
	"github.com/auranym/dicechat/internal/transport/wstp"
	"github.com/auranym/dicechat/pkg/logger"
)

var (
	name          = flag.String("name", "", "username for the room host")
	transportKind = flag.String("transport", "relay", "transport backend: relay or nats")
	configPath    = flag.String("config", "", "configuration file")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		cfg = config.MustReadConfig(*configPath)
	}
	logg := logger.NewLogger(cfg.LogLevel)

	username := *name
	if username == "" {
		username = promptUsername()
	}

	tp, cleanup := buildTransport(cfg, logg)
	defer cleanup()

	host, err := session.OpenRoom(context.Background(), session.HostConfig{
		Username:  username,
		Transport: tp,
		Heartbeat: session.Heartbeat{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
		Logger: logg,
		Events: session.HostEvents{
			Joined: func(username string) {
				fmt.Printf("* %s has joined!\n", username)
			},
			Left: func(username string) {
				fmt.Printf("* %s has left.\n", username)
			},
			Chat: func(msg message.Message) {
				fmt.Println(msg.Display())
			},
			Closed: func(reason string) {
				if reason != "" {
					fmt.Println(reason)
				}
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to open room: %s", session.FatalReason(err))
	}

	fmt.Printf("Room open. Code: %s\n", host.RoomCode())
	fmt.Println("Write Messages (Press Enter to Send):")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := readLines()
	for {
		select {
		case <-host.Done():
			return
		case <-interrupt:
			log.Println("Interrupt received, closing room...")
			host.Close()
			return
		case text, ok := <-lines:
			if !ok {
				host.Close()
				return
			}
			if text == "" {
				continue
			}
			host.Say(text)
		}
	}
}

func promptUsername() string {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("Enter your username: ")
	scanner.Scan()
	return scanner.Text()
}

func readLines() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

func buildTransport(cfg config.Config, logg logger.Logger) (transport.Transport, func()) {
	switch *transportKind {
	case "relay":
		return wstp.New(cfg.RelayURL, logg), func() {}
	case "nats":
		tp, err := natstp.New(cfg.NATSURL, logg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		return tp, tp.Close
	default:
		log.Fatalf("Unknown transport %q (want relay or nats)", *transportKind)
		return nil, nil
	}
}

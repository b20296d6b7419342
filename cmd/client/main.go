package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/auranym/dicechat/internal/config"
	"github.com/auranym/dicechat/internal/message"
	"github.com/auranym/dicechat/internal/session"
	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/internal/transport/natstp"
	"github.com/auranym/dicechat/internal/transport/wstp"
	"github.com/auranym/dicechat/pkg/logger"
)

var (
	name          = flag.String("name", "", "username to request")
	code          = flag.String("code", "", "room code to join")
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
		username = prompt("Enter your username: ")
	}
	roomCode := strings.ToUpper(*code)
	if roomCode == "" {
		roomCode = strings.ToUpper(prompt("Enter the room code: "))
	}

	tp, cleanup := buildTransport(cfg, logg)
	defer cleanup()

	failed := make(chan string, 1)
	client, err := session.JoinRoom(context.Background(), session.ClientConfig{
		Username:  username,
		RoomCode:  roomCode,
		Transport: tp,
		Heartbeat: session.Heartbeat{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
		Logger: logg,
		Events: session.ClientEvents{
			Chat: func(msg message.Message) {
				fmt.Println(msg.Display())
			},
			Failed: func(reason string) {
				select {
				case failed <- reason:
				default:
				}
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to join room: %s", session.FatalReason(err))
	}

	fmt.Printf("Joined room %s as %s (host: %s).\n",
		client.RoomCode(), client.Username(), client.HostUsername())
	fmt.Println("Write Messages (Press Enter to Send):")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := readLines()
	for {
		select {
		case reason := <-failed:
			fmt.Println(reason)
			return
		case <-client.Done():
			select {
			case reason := <-failed:
				fmt.Println(reason)
			default:
			}
			return
		case <-interrupt:
			log.Println("Interrupt received, leaving room...")
			client.Leave()
			return
		case text, ok := <-lines:
			if !ok {
				client.Leave()
				return
			}
			if text == "" {
				continue
			}
			if err := client.Send(text); err != nil {
				log.Printf("Error sending message: %v", err)
			}
		}
	}
}

func prompt(label string) string {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print(label)
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

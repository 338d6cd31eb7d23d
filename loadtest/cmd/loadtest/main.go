// Command loadtest drives the relay chat server with a swarm of simulated
// users. Each user connects, optionally renames, then chats at a fixed rate;
// at the end the tool reports aggregate throughput and delivery counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relay/chat-app/loadtest/client"
)

var chatLines = []string{
	"hello everyone",
	"how is it going?",
	"anyone here?",
	"this server is quick",
	"what did I miss?",
	"good to see you all",
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
		users    = flag.Int("users", 50, "number of concurrent simulated users")
		messages = flag.Int("messages", 20, "chat messages per user")
		interval = flag.Duration("interval", 500*time.Millisecond, "delay between messages per user")
		rename   = flag.Bool("rename", true, "rename each user before chatting")
	)
	flag.Parse()

	log.Printf("loadtest: %d users -> %s (%d messages each, every %s)",
		*users, *url, *messages, *interval)

	var (
		wg        sync.WaitGroup
		sent      atomic.Int64
		received  atomic.Int64
		errors    atomic.Int64
		connected atomic.Int64
	)

	start := time.Now()

	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			c, err := client.Dial(ctx, *url)
			cancel()
			if err != nil {
				log.Printf("loadtest: user %d connect failed: %v", n, err)
				errors.Add(1)
				return
			}
			defer c.Close()
			connected.Add(1)

			c.On(client.TypeError, func(msg map[string]interface{}) {
				log.Printf("loadtest: user %d server error: %v", n, msg["text"])
			})

			// Give the welcome notification a moment to arrive.
			time.Sleep(200 * time.Millisecond)

			if *rename {
				if err := c.SetUsername(fmt.Sprintf("LoadUser%d", n)); err != nil {
					errors.Add(1)
				}
			}

			for m := 0; m < *messages; m++ {
				line := chatLines[rand.Intn(len(chatLines))]
				if err := c.SendChat(line); err != nil {
					errors.Add(1)
					break
				}
				time.Sleep(*interval)
			}

			// Linger so late broadcasts still count.
			time.Sleep(1 * time.Second)

			metrics := c.Metrics()
			sent.Add(int64(metrics.MessagesSent))
			received.Add(int64(metrics.MessagesReceived))
			errors.Add(int64(metrics.Errors))
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("\n--- loadtest results ---\n")
	fmt.Printf("connected: %d/%d users\n", connected.Load(), *users)
	fmt.Printf("sent:      %d frames\n", sent.Load())
	fmt.Printf("received:  %d frames\n", received.Load())
	fmt.Printf("errors:    %d\n", errors.Load())
	fmt.Printf("elapsed:   %s (%.0f frames/sec received)\n",
		elapsed.Round(time.Millisecond),
		float64(received.Load())/elapsed.Seconds())
}

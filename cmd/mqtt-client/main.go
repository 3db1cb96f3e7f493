// Command mqtt-client is a small interactive MQTT client: it connects
// to a broker, subscribes to a couple of filters, and republishes a
// timestamp once a second until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-io/mqtt"
	"github.com/golang-io/mqtt/packet"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := mqtt.New(
		mqtt.URL("mqtt://127.0.0.1:1883"),
		mqtt.Subscription(
			packet.Subscription{TopicFilter: "+"},
			packet.Subscription{TopicFilter: "a/b/c"},
		),
	)
	if err != nil {
		log.Fatal(err)
	}
	c.OnMessage(func(msg *packet.Message) {
		log.Printf("on: %s", msg.String())
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.Connect(gctx, true)
	})
	group.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			err := c.Publish(gctx, "12345", []byte(time.Now().Format("2006-01-02 15:04:05")), 0, false)
			if err != nil {
				log.Printf("%v", err)
			}
			time.Sleep(time.Second)
		}
	})
	group.Go(func() error {
		defer cancel()
		ignore := make(chan os.Signal, 1)
		sign := make(chan os.Signal, 1)
		signal.Notify(ignore, syscall.SIGHUP)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-gctx.Done():
			return gctx.Err()
		case sig := <-sign:
			return fmt.Errorf("got sign: %s", sig)
		}
	})

	if err := group.Wait(); err != nil {
		_ = c.Disconnect()
		log.Fatal(err)
	}
}

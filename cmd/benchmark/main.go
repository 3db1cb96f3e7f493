// Command benchmark drives 100 concurrent clients against a local
// broker through a shared Pool, each publishing to its own topic once a
// second while subscribed to a couple of wildcard filters.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/golang-io/mqtt"
	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/topic"
	"golang.org/x/sync/errgroup"
)

func main() {
	pool := mqtt.NewPool(0)
	defer pool.Close()

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 100; i++ {
		i := i
		c, err := pool.GetOrCreate(
			mqtt.URL("mqtt://127.0.0.1:1883"),
			mqtt.ClientID(fmt.Sprintf("bench-%d", i)),
		)
		if err != nil {
			log.Fatal(err)
		}

		group.Go(func() error {
			if err := c.Connect(ctx, true); err != nil {
				return err
			}
			if _, err := c.Subscribe([]topic.Filter{{Filter: "+"}, {Filter: "a/b/c"}}); err != nil {
				return err
			}
			c.OnMessage(func(msg *packet.Message) {
				log.Printf("id=%s, msg=%s", c.ID(), msg)
			})

			timer := time.NewTimer(time.Second)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					if err := c.Publish(ctx, fmt.Sprintf("topic-%d", i), []byte("hello world"), 0, false); err != nil {
						log.Printf("publish: %v", err)
					}
					timer.Reset(time.Second)
				}
			}
		})
	}
	if err := group.Wait(); err != nil {
		log.Println(err)
	}
}

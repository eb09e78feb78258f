package status

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Forwarder receives decoded broker messages, typically the websocket
// hub.
type Forwarder interface {
	Broadcast(event string, data interface{})
}

// Subscriber is the server-side fan-in: it holds its own broker
// connection (distinct from worker publishers) and forwards every
// status message to the websocket clients.
type Subscriber struct {
	rdb       *redis.Client
	forwarder Forwarder
}

func NewSubscriber(addr string, forwarder Forwarder) *Subscriber {
	return &Subscriber{
		rdb:       redis.NewClient(&redis.Options{Addr: addr}),
		forwarder: forwarder,
	}
}

// Run subscribes to all status channels and forwards until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, ChannelFolderStatus, ChannelJobStatus, ChannelFileSystem)
	defer sub.Close()
	log.Printf("Status: subscriber listening on %s, %s, %s", ChannelFolderStatus, ChannelJobStatus, ChannelFileSystem)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.forward(msg)
		}
	}
}

func (s *Subscriber) forward(msg *redis.Message) {
	switch msg.Channel {
	case ChannelFolderStatus:
		var update FolderStatusUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			log.Printf("Status: bad folder update: %v", err)
			return
		}
		s.forwarder.Broadcast("folder:status", update)
	case ChannelJobStatus:
		var update JobStatusUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			log.Printf("Status: bad job update: %v", err)
			return
		}
		s.forwarder.Broadcast("job:status", update)
	case ChannelFileSystem:
		s.forwarder.Broadcast("inbox:fs", FileSystemUpdate{})
	}
}

func (s *Subscriber) Close() error { return s.rdb.Close() }

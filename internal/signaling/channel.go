package signaling

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/callerr"
	"github.com/mossy-p/meshcall/internal/codec"
	"github.com/mossy-p/meshcall/internal/models"
)

// seenCacheSize bounds the duplicate-suppression window.
const seenCacheSize = 1024

// Channel is the signaling group of one room.
type Channel struct {
	topic string
	bus   Bus
	codec codec.Codec
	log   *zap.Logger

	sub  Subscription
	seen *lru.Cache[string, struct{}]
	out  chan *models.SignalMessage

	done      chan struct{}
	closeOnce sync.Once
}

// Open subscribes to the room's topic. A failure is reported as
// ChannelUnavailable.
func Open(ctx context.Context, bus Bus, c codec.Codec, roomID string, log *zap.Logger) (*Channel, error) {
	topic := models.Topic(roomID)

	sub, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, callerr.New(callerr.ChannelUnavailable, err)
	}

	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		_ = sub.Close()
		return nil, callerr.New(callerr.ChannelUnavailable, err)
	}

	ch := &Channel{
		topic: topic,
		bus:   bus,
		codec: c,
		log:   log.Named("signaling").With(zap.String("topic", topic)),
		sub:   sub,
		seen:  seen,
		out:   make(chan *models.SignalMessage, subscriptionBuffer),
		done:  make(chan struct{}),
	}
	go ch.pump()

	ch.log.Debug("channel open", zap.String("codec", c.Name()))
	return ch, nil
}

// Topic returns the subscribed topic name.
func (ch *Channel) Topic() string { return ch.topic }

// Messages yields decoded, validated, de-duplicated messages. It is closed
// after Close or when the transport drops the subscription.
func (ch *Channel) Messages() <-chan *models.SignalMessage { return ch.out }

func (ch *Channel) pump() {
	defer close(ch.out)
	for {
		select {
		case <-ch.done:
			return
		case data, ok := <-ch.sub.C():
			if !ok {
				return
			}
			msg, err := ch.codec.Unmarshal(data)
			if err != nil {
				ch.log.Warn("dropping undecodable message", zap.Error(err))
				continue
			}
			if err := msg.Validate(); err != nil {
				ch.log.Warn("dropping invalid message", zap.String("sender", msg.Sender), zap.Error(err))
				continue
			}
			if msg.ID != "" {
				if ok, _ := ch.seen.ContainsOrAdd(msg.ID, struct{}{}); ok {
					ch.log.Debug("dropping duplicate message", zap.String("id", msg.ID))
					continue
				}
			}
			select {
			case ch.out <- msg:
			case <-ch.done:
				return
			}
		}
	}
}

// Send broadcasts msg to every subscriber of the topic, the sender included.
// There is no acknowledgement and no retry.
func (ch *Channel) Send(ctx context.Context, msg *models.SignalMessage) error {
	select {
	case <-ch.done:
		return ErrClosed
	default:
	}

	data, err := ch.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	if err := ch.bus.Publish(ctx, ch.topic, data); err != nil {
		ch.log.Warn("send failed", zap.Stringer("kind", msg.Kind), zap.Error(err))
		return err
	}
	return nil
}

// Close unsubscribes. Safe to call multiple times.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		err = ch.sub.Close()
		ch.log.Debug("channel closed")
	})
	return err
}

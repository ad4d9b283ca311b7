package orderfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttBuffer = 256

// MQTTConsumer buffers messages delivered by a paho subscription until polled.
type MQTTConsumer struct {
	client mqtt.Client
	topic  string
	msgs   chan Message
	done   chan struct{}
	once   sync.Once

	backlog backlog
}

func NewMQTTConsumer(broker string, port int, clientID, topic string) (*MQTTConsumer, error) {
	if broker == "" {
		return nil, fmt.Errorf("mqtt consumer requires a broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("mqtt consumer requires a topic")
	}
	if port == 0 {
		port = 1883
	}
	c := &MQTTConsumer{
		topic: topic,
		msgs:  make(chan Message, mqttBuffer),
		done:  make(chan struct{}),
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port)).
		SetClientID(clientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(cl mqtt.Client) {
			// Resubscribe after every reconnect.
			cl.Subscribe(topic, 1, c.handle)
		})
	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

func (c *MQTTConsumer) handle(_ mqtt.Client, msg mqtt.Message) {
	select {
	case c.msgs <- Message{Topic: msg.Topic(), Payload: msg.Payload()}:
	case <-c.done:
	}
}

func (c *MQTTConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if out := c.backlog.take(max); len(out) > 0 {
		return out, nil
	}
	return drain(ctx, c.msgs, max, 250*time.Millisecond)
}

// Requeue hands msgs back to the next Poll.
func (c *MQTTConsumer) Requeue(msgs []Message) {
	c.backlog.push(msgs)
}

func (c *MQTTConsumer) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.client != nil {
			c.client.Unsubscribe(c.topic).Wait()
			c.client.Disconnect(1000)
		}
	})
	return nil
}

// drain waits up to wait for the first message, then takes whatever else is
// already buffered, up to max.
func drain(ctx context.Context, msgs <-chan Message, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	out := make([]Message, 0, max)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case <-timer.C:
		return out, nil
	case m := <-msgs:
		out = append(out, m)
	}
	for len(out) < max {
		select {
		case m := <-msgs:
			out = append(out, m)
		default:
			return out, nil
		}
	}
	return out, nil
}

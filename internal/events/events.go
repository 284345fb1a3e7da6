// Package events forwards repository changes to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"rent360.org/internal/obs"
	"rent360.org/internal/properties"
)

const TypePropertiesChanged = "properties.changed"

// Event is the JSON payload published on every change.
type Event struct {
	Type  string    `json:"type"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is the part of the property repository the bridge listens to.
type Source interface {
	Properties(ctx context.Context) ([]properties.Property, error)
	SubscribeChanged(fn func()) func()
}

type Bridge struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

func NewBridge(pub Publisher, subject string) *Bridge {
	return &Bridge{pub: pub, subject: subject, now: time.Now}
}

// Attach publishes an Event after every change of src until the returned
// function is called. Failures are logged and dropped.
func (b *Bridge) Attach(src Source) func() {
	return src.SubscribeChanged(func() {
		props, err := src.Properties(context.Background())
		if err != nil {
			obs.Logger().WithError(err).Warn("events: read properties")
			return
		}
		b.Publish(Event{Type: TypePropertiesChanged, Count: len(props), At: b.now().UTC()})
	})
}

func (b *Bridge) Publish(ev Event) {
	log := obs.Logger().WithFields(logrus.Fields{"subject": b.subject, "type": ev.Type})
	data, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).Error("events: encode")
		return
	}
	if err := b.pub.Publish(b.subject, data); err != nil {
		log.WithError(err).Warn("events: publish failed")
		return
	}
	log.WithField("count", ev.Count).Debug("events: published")
}

// Connect dials NATS with reconnects enabled; a broker that is down at
// startup is retried in the background.
func Connect(url, name string) (*nats.Conn, error) {
	log := obs.Logger().WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

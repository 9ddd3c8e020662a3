package store

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const changeSubject = "davinci.docs.changed"

// BrokerConnect dials the NATS server named by NATS_URL (localhost by
// default) with reconnect options suitable for a long-lived game node.
func BrokerConnect() (*nats.Conn, error) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name("davinci-code"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(5),
	}
	return nats.Connect(url, opts...)
}

type changeMessage struct {
	NodeID string  `json:"nodeId"`
	Events []Event `json:"events"`
}

// AttachNATS bridges the client's change notifications across nodes:
// committed writes on this node are published to the change subject, and
// writes published by other nodes are injected into local subscriptions.
// Multiple server nodes sharing one Postgres store see each other's commits
// this way.
func AttachNATS(c *Client, nc *nats.Conn) (*nats.Subscription, error) {
	nodeID := uuid.NewString()

	c.relay = func(events []Event) {
		data, err := json.Marshal(changeMessage{NodeID: nodeID, Events: events})
		if err != nil {
			return
		}
		if err := nc.Publish(changeSubject, data); err != nil {
			log.Printf("nats publish failed subject=%s error=%v", changeSubject, err)
		}
	}

	return nc.Subscribe(changeSubject, func(m *nats.Msg) {
		var msg changeMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("nats decode failed subject=%s error=%v", changeSubject, err)
			return
		}
		if msg.NodeID == nodeID {
			return
		}
		c.deliverRemote(msg.Events)
	})
}

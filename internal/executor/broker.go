package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
	storeredis "github.com/ryansmccoy/spine-core-sub000/internal/store/redis"
)

// Broker pushes a WorkSpec onto a Redis list queue for out-of-process
// workers to pick up — the distributed model, where this process never
// runs the handler itself. Submit always returns synchronously false;
// the run's outcome arrives later when a remote worker updates the
// ledger directly.
type Broker struct {
	client *storeredis.Client
	queue  string
}

func NewBroker(client *storeredis.Client, queue string) *Broker {
	return &Broker{client: client, queue: queue}
}

type brokerMessage struct {
	RunID   string         `json:"run_id"`
	Kind    string         `json:"kind"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

func (b *Broker) Submit(ctx context.Context, spec domain.WorkSpec, _ *registry.Registry) (*Result, bool, error) {
	msg := brokerMessage{RunID: spec.ID, Kind: string(spec.Kind), Name: spec.Name, Payload: spec.Payload}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, false, fmt.Errorf("marshal broker message: %w", err)
	}
	if err := b.client.Push(ctx, b.queue, string(raw)); err != nil {
		return nil, false, fmt.Errorf("push to broker queue: %w", err)
	}
	return nil, false, nil
}

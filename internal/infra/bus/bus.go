// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus carries published analysis payloads to subscribers, in process
// (MemoryBus) and across processes (RedisBus).
package bus

import (
	"context"
	"errors"
)

// Subscriber receives payloads published on one topic.
type Subscriber interface {
	C() <-chan []byte
	Close() error
}

// Bus is a topic-addressed pub/sub. Publish never blocks on slow subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Publisher is the publish half of a Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Fanout publishes to every target and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

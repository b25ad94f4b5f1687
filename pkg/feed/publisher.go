// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink receives snapshots.
type Sink interface {
	Publish(s Snapshot) error
}

// Publisher samples a Source on an interval and hands each snapshot to
// every sink.
type Publisher struct {
	sinks []Sink
	log   *zap.Logger
}

// NewPublisher creates a publisher. A nil log discards output.
func NewPublisher(log *zap.Logger, sinks ...Sink) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{sinks: sinks, log: log}
}

// Run publishes until ctx ends. A failing sink is logged and retried on the
// next sample.
func (p *Publisher) Run(ctx context.Context, src Source, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publish(src())
		}
	}
}

func (p *Publisher) publish(s Snapshot) {
	for _, sink := range p.sinks {
		if err := sink.Publish(s); err != nil {
			p.log.Debug("publish failed", zap.Error(err))
		}
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"

	"github.com/bureau-foundation/sgm/lib/metrics"
)

// Metric operation names recorded by InstrumentedAdapter.
const (
	OperationFetch   = "adapter_fetch"
	OperationPublish = "adapter_publish"
)

var _ Adapter = (*InstrumentedAdapter)(nil)

// InstrumentedAdapter records one metrics event per call to the wrapped
// adapter.
type InstrumentedAdapter struct {
	inner    Adapter
	recorder *metrics.Recorder
}

// NewInstrumentedAdapter wraps inner. A nil recorder makes the wrapper
// a pass-through.
func NewInstrumentedAdapter(inner Adapter, recorder *metrics.Recorder) *InstrumentedAdapter {
	return &InstrumentedAdapter{inner: inner, recorder: recorder}
}

func (i *InstrumentedAdapter) Publish(ctx context.Context, namespace, owner string, payload []byte) (uint64, error) {
	span := i.recorder.Start(OperationPublish)
	span.Event.PayloadBytes = metrics.Int(len(payload))

	index, err := i.inner.Publish(ctx, namespace, owner, payload)
	span.Event.Address = Address{Namespace: namespace, Owner: owner, Index: index}.String()
	if err == nil {
		span.Event.StreamIndex = metrics.Uint64(index)
	}
	span.End(err)
	return index, err
}

func (i *InstrumentedAdapter) PublishAt(ctx context.Context, namespace, owner string, index uint64, payload []byte) error {
	span := i.recorder.Start(OperationPublish)
	span.Event.Address = Address{Namespace: namespace, Owner: owner, Index: index}.String()
	span.Event.StreamIndex = metrics.Uint64(index)
	span.Event.PayloadBytes = metrics.Int(len(payload))

	err := i.inner.PublishAt(ctx, namespace, owner, index, payload)
	span.End(err)
	return err
}

func (i *InstrumentedAdapter) FetchAt(ctx context.Context, namespace, owner string, index uint64) ([]byte, bool, error) {
	span := i.recorder.Start(OperationFetch)
	span.Event.Address = Address{Namespace: namespace, Owner: owner, Index: index}.String()
	span.Event.StreamIndex = metrics.Uint64(index)

	payload, found, err := i.inner.FetchAt(ctx, namespace, owner, index)
	span.Event.Found = metrics.Bool(found)
	if found {
		span.Event.PayloadBytes = metrics.Int(len(payload))
	}
	span.End(err)
	return payload, found, err
}

package stream

import (
	"context"
	"encoding/json"
)

// ChildEvent is the payload synthesized onto a container node's own
// stream when one of its children is created or has its metadata
// updated. Subscribing to a container also streams child_created,
// child_metadata_updated, and stream_closed events; each event carries
// the affected child's key relative to the subscribed container.
type ChildEvent struct {
	Type     FrameKind       `json:"type"`
	ChildKey string          `json:"child_key"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// EventBus publishes container child events onto the parent container's
// stream so any subscriber of the container sees them inline with its
// own data records, reusing the same Writer/Datastore path as ordinary
// node data
type EventBus struct {
	writer *Writer
}

func NewEventBus(writer *Writer) *EventBus {
	return &EventBus{writer: writer}
}

func (b *EventBus) ChildCreated(ctx context.Context, containerNodeID, childKey string) error {
	return b.emit(ctx, containerNodeID, ChildEvent{Type: FrameChildCreated, ChildKey: childKey})
}

func (b *EventBus) ChildMetadataUpdated(ctx context.Context, containerNodeID, childKey string, metadata json.RawMessage) error {
	return b.emit(ctx, containerNodeID, ChildEvent{Type: FrameChildUpdated, ChildKey: childKey, Metadata: metadata})
}

func (b *EventBus) emit(ctx context.Context, containerNodeID string, ev ChildEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.writer.Publish(ctx, containerNodeID, nil, body)
	return err
}

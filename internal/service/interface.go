package service

import (
	"context"
	"errors"
)

var (
	// ErrValidation marks an event with missing or malformed fields.
	// No state was mutated and nothing was fanned out.
	ErrValidation = errors.New("invalid event")
	// ErrUnknownSession marks an event for a connection with no active
	// session. Expected in out-of-order disconnect races; callers
	// ignore it silently.
	ErrUnknownSession = errors.New("unknown session")
	// ErrStaleSession marks a session that vanished or changed mode
	// while a store operation was in flight. The pending fan-out was
	// dropped; not user-visible.
	ErrStaleSession = errors.New("session changed during operation")
)

// Transport is the boundary the routing engine fans out through. The hub
// implements it; tests substitute fakes.
type Transport interface {
	Subscribe(connectionID, channel string)
	Unsubscribe(connectionID, channel string)
	Subscribed(connectionID, channel string) bool
	Emit(connectionID string, message interface{}) error
	Broadcast(channel string, message interface{}) error
	BroadcastAll(message interface{}) error
}

// ChatService is the event-driven routing engine: it mutates the session
// registry, persists messages, and computes fan-out for every inbound
// session event.
type ChatService interface {
	HandleJoin(ctx context.Context, connectionID, nickname, space string) error
	HandleSwitchSpace(ctx context.Context, connectionID, space string) error
	HandleStartDirect(ctx context.Context, connectionID, peer string) error
	HandleEndDirect(ctx context.Context, connectionID, space string) error
	HandleSendMessage(ctx context.Context, connectionID, content, image string) error
	HandleDisconnect(ctx context.Context, connectionID string) error
	Stop() error
}

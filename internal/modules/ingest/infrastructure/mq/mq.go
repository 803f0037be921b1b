package mq

import "context"

type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}

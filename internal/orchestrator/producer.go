package orchestrator

import (
	"context"
)

// Producer turns one user message into a stream of assistant tokens. emit
// is called once per token in order; the returned string is the complete
// assistant message. Implementations must respect ctx cancellation.
type Producer interface {
	Produce(ctx context.Context, content string, emit func(token string) error) (string, error)
}

// echoChunkSize is the token width of the development producer.
const echoChunkSize = 8

// EchoProducer is the development producer: it answers "You said: <content>"
// split into fixed-size chunks. A model-backed producer replaces it behind
// the same interface.
type EchoProducer struct{}

func (EchoProducer) Produce(ctx context.Context, content string, emit func(token string) error) (string, error) {
	full := "You said: " + content
	for i := 0; i < len(full); i += echoChunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := i + echoChunkSize
		if end > len(full) {
			end = len(full)
		}
		if err := emit(full[i:end]); err != nil {
			return "", err
		}
	}
	return full, nil
}

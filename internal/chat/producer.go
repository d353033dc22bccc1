package chat

import (
	"context"
	"time"
)

// Default chunking policy for streamed answers.
const (
	DefaultChunkSize  = 36
	DefaultChunkDelay = 20 * time.Millisecond
)

// Split segments answer into pieces of at most size characters, in order.
// Segmentation counts runes so multi-byte characters are never cut.
func Split(answer string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(answer)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Producer emits an answer as fixed-size chunks with a pause before each one.
type Producer struct {
	size  int
	delay time.Duration
}

// NewProducer returns a producer using the given policy; zero values fall back to the defaults.
func NewProducer(size int, delay time.Duration) *Producer {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if delay <= 0 {
		delay = DefaultChunkDelay
	}
	return &Producer{size: size, delay: delay}
}

// Emit sends every chunk of answer through emit. It stops early when ctx is done
// or emit fails, returning the number of chunks delivered.
func (p *Producer) Emit(ctx context.Context, answer string, emit func(text string) error) (int, error) {
	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	sent := 0
	for i, chunk := range Split(answer, p.size) {
		if i > 0 {
			timer.Reset(p.delay)
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-timer.C:
		}
		if err := emit(chunk); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

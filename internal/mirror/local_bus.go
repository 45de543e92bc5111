package mirror

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/arena/internal/domain"
)

// LocalBus is an in-process domain.SignalBus used when Redis is not
// configured. Streams are capped ring buffers; subscribers that fall behind
// miss messages.
type LocalBus struct {
	mu      sync.Mutex
	subs    map[int]*localSub
	nextSub int
	streams map[string][]domain.StreamMessage
	nextID  int64
	maxLen  int
}

type localSub struct {
	pattern string
	ch      chan []byte
}

// NewLocalBus creates a LocalBus keeping at most maxLen entries per stream.
func NewLocalBus(maxLen int) *LocalBus {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &LocalBus{
		subs:    make(map[int]*localSub),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// Publish delivers payload to every matching subscriber without blocking.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers for channel, which may end in "*". The returned
// channel closes when ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	sub := &localSub{pattern: channel, ch: make(chan []byte, 128)}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

// StreamAppend appends payload, dropping the oldest entry past maxLen.
func (b *LocalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.nextID),
		Payload: append([]byte(nil), payload...),
	})
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with an id after lastID.
func (b *LocalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.ParseInt(strings.SplitN(lastID, "-", 2)[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mirror: bad stream id %q: %w", lastID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(strings.SplitN(m.ID, "-", 2)[0], 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*LocalBus)(nil)

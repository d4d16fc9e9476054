package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/errors"
	"quitline-realtime/pkg/logger"
)

// Fetcher is the slice of the REST collaborator the store needs.
type Fetcher interface {
	FetchMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.Message, error)
}

// Transport is the slice of the connection manager the store needs.
type Transport interface {
	Publish(event string, payload any) error
	Subscribe(event string, h transport.Handler) func()
}

// Store maintains the ordered, deduplicated in-memory window of one room's
// messages, merging paginated history fetches with live pushes. Message ID is
// the dedup key; the window is re-sorted by SentAt after every merge, so a
// page prepend interleaved with a live push still yields a globally sorted
// sequence.
type Store struct {
	tr       Transport
	fetcher  Fetcher
	roomID   uuid.UUID
	pageSize int

	mu        sync.Mutex
	window    []*domain.Message
	seen      map[uuid.UUID]struct{}
	offset    int // messages consumed from history, counting back from newest
	hasMore   bool
	onMessage func(*domain.Message)
	unsub     func()
	started   bool
}

// NewStore creates a message store for the given room.
func NewStore(tr Transport, fetcher Fetcher, roomID uuid.UUID) *Store {
	return &Store{
		tr:       tr,
		fetcher:  fetcher,
		roomID:   roomID,
		pageSize: constants.DefaultPageSize,
		seen:     make(map[uuid.UUID]struct{}),
		hasMore:  true,
	}
}

// OnMessage registers the callback invoked when a new message enters the
// window via live push. Must be called before Start.
func (s *Store) OnMessage(fn func(*domain.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Start subscribes to live pushes for the room.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.unsub = s.tr.Subscribe(transport.EventNewMessage, s.handleNewMessage)
}

// Stop drops the subscription and evicts the window.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.unsub()
	s.unsub = nil
	s.window = nil
	s.seen = make(map[uuid.UUID]struct{})
	s.offset = 0
}

// LoadInitialPage fetches the most recent history page and establishes the
// initial window. Live pushes received before the fetch returns are merged,
// not duplicated.
func (s *Store) LoadInitialPage(ctx context.Context) ([]*domain.Message, error) {
	page, err := s.fetcher.FetchMessages(ctx, s.roomID, s.pageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("initial page load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = len(page)
	s.hasMore = len(page) == s.pageSize
	s.mergeLocked(page)
	return s.snapshotLocked(), nil
}

// LoadOlderPage fetches the page preceding the oldest loaded message and
// prepends it. Returns the updated window.
func (s *Store) LoadOlderPage(ctx context.Context) ([]*domain.Message, error) {
	s.mu.Lock()
	if !s.hasMore {
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		return snapshot, nil
	}
	offset := s.offset
	s.mu.Unlock()

	page, err := s.fetcher.FetchMessages(ctx, s.roomID, s.pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("older page load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += len(page)
	s.hasMore = len(page) == s.pageSize
	s.mergeLocked(page)
	return s.snapshotLocked(), nil
}

// HasMore reports whether older history remains beyond the loaded window.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Send publishes a message over the transport. The local window is not
// updated optimistically: the message appears only when the server echoes it
// back on the live-push channel, which keeps echo/fetch races from producing
// double entries.
func (s *Store) Send(body string) error {
	if body == "" {
		return errors.InvalidInputError("message body is empty")
	}
	if len(body) > constants.MaxMessageLength {
		return errors.InvalidInputError("message body too long")
	}

	return s.tr.Publish(transport.EventSendMessage, &transport.SendMessagePayload{
		RoomID: s.roomID,
		Body:   body,
	})
}

// Messages returns a snapshot of the current window, sorted by SentAt.
func (s *Store) Messages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) handleNewMessage(data json.RawMessage) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("malformed message push", zap.Error(err))
		return
	}
	if msg.RoomID != s.roomID {
		return
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	added := s.mergeLocked([]*domain.Message{&msg})
	onMessage := s.onMessage
	s.mu.Unlock()

	if added > 0 && onMessage != nil {
		onMessage(&msg)
	}
}

// mergeLocked folds messages into the window, dropping IDs already present,
// then re-sorts. Returns the number of messages actually added.
func (s *Store) mergeLocked(batch []*domain.Message) int {
	added := 0
	for _, msg := range batch {
		if msg == nil {
			continue
		}
		if _, dup := s.seen[msg.ID]; dup {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		s.window = append(s.window, msg)
		added++
	}
	if added > 0 {
		sort.SliceStable(s.window, func(i, j int) bool {
			return s.window[i].SentAt.Before(s.window[j].SentAt)
		})
	}
	return added
}

func (s *Store) snapshotLocked() []*domain.Message {
	out := make([]*domain.Message, len(s.window))
	copy(out, s.window)
	return out
}

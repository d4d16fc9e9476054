package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/session"
	"quitline-realtime/pkg/cache"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/errors"
)

var _ session.Collaborators = (*Client)(nil)

// Client talks to the external REST collaborators: message history, media
// token issuance and the room directory. The realtime core only consumes
// these contracts; it never writes through them.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	rooms      *cache.MemoryCache
}

// NewClient creates a REST client authenticating with the given credential.
func NewClient(baseURL, credential string) *Client {
	return &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{Timeout: constants.RESTRequestTimeout},
		rooms:      cache.NewMemoryCache(constants.RoomListCacheTTL, 16),
	}
}

type messagesResponse struct {
	Messages []*domain.Message `json:"messages"`
}

// FetchMessages retrieves one ordered page of room history. Offset counts
// back from the newest message; offset 0 is the most recent page.
func (c *Client) FetchMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	endpoint := fmt.Sprintf("%s/v1/rooms/%s/messages", c.baseURL, roomID)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp messagesResponse
	if err := c.get(ctx, endpoint+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return resp.Messages, nil
}

type mediaTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FetchMediaToken requests a fresh call-scoped media token for the room.
// Tokens are single-call credentials; callers must never cache them.
func (c *Client) FetchMediaToken(ctx context.Context, roomID uuid.UUID) (*domain.MediaToken, error) {
	endpoint := fmt.Sprintf("%s/v1/rooms/%s/media-token", c.baseURL, roomID)

	var resp mediaTokenResponse
	if err := c.post(ctx, endpoint, nil, &resp); err != nil {
		return nil, errors.TokenFetchError(err)
	}
	if resp.Token == "" {
		return nil, errors.TokenFetchError(fmt.Errorf("empty token in response"))
	}

	return &domain.MediaToken{
		Token:     resp.Token,
		RoomID:    roomID,
		IssuedAt:  time.Now(),
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

type roomListResponse struct {
	Rooms []*domain.Room `json:"rooms"`
}

const roomListCacheKey = "room-list"

// FetchRoomList retrieves the rooms the authenticated identity belongs to.
// The directory changes rarely, so responses are cached briefly; message
// history and media tokens are never cached.
func (c *Client) FetchRoomList(ctx context.Context) ([]*domain.Room, error) {
	if cached, ok := c.rooms.Get(roomListCacheKey); ok {
		return cached.([]*domain.Room), nil
	}

	var resp roomListResponse
	if err := c.get(ctx, c.baseURL+"/v1/rooms", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch rooms: %w", err)
	}
	c.rooms.Set(roomListCacheKey, resp.Rooms, 0)
	return resp.Rooms, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, out)
}

func (c *Client) post(ctx context.Context, endpoint string, _ any, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

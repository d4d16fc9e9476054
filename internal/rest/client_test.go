package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quitline-realtime/internal/domain"
	"quitline-realtime/pkg/errors"
)

func TestFetchMessagesPassesPagingParams(t *testing.T) {
	roomID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/v1/rooms/%s/messages", roomID), r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "40", r.URL.Query().Get("offset"))
		assert.Equal(t, "Bearer cred", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"messages": []*domain.Message{
				{ID: uuid.New(), RoomID: roomID, Body: "hi", SentAt: time.Now()},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "cred")
	msgs, err := client.FetchMessages(context.Background(), roomID, 20, 40)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
}

func TestFetchMediaTokenFailureWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "cred")
	_, err := client.FetchMediaToken(context.Background(), uuid.New())

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTokenFetch))
}

func TestFetchMediaTokenRejectsEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token": ""})
	}))
	defer server.Close()

	client := NewClient(server.URL, "cred")
	_, err := client.FetchMediaToken(context.Background(), uuid.New())

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTokenFetch))
}

func TestFetchMediaTokenNeverCached(t *testing.T) {
	var calls atomic.Int32
	roomID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"token": fmt.Sprintf("tok-%d", n)})
	}))
	defer server.Close()

	client := NewClient(server.URL, "cred")

	first, err := client.FetchMediaToken(context.Background(), roomID)
	require.NoError(t, err)
	second, err := client.FetchMediaToken(context.Background(), roomID)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.NotEqual(t, first.Token, second.Token)
}

func TestFetchRoomListCachedBriefly(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"rooms": []*domain.Room{
				{ID: uuid.New(), Status: domain.RoomStatusActive},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "cred")

	first, err := client.FetchRoomList(context.Background())
	require.NoError(t, err)
	second, err := client.FetchRoomList(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first[0].ID, second[0].ID)
}

package client

import (
	"context"
	"dm-lab/auth"
	"dm-lab/infrastructure/bus"
	"dm-lab/infrastructure/http/server"
	"dm-lab/observability"
	"dm-lab/repositories"
	"dm-lab/search"
	"dm-lab/services"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testPassword = "Correct-Horse-42"

// stack is a complete in-process server: badger on a temp dir, the memory bus,
// the HTTP API and the relay.
type stack struct {
	url           string
	log           *slog.Logger
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
}

func startStack(t *testing.T) stack {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	monitoring := observability.NewMonitoring()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	index, err := search.OpenUserIndex("", log)
	require.NoError(t, err)

	memoryBus := bus.NewMemoryBus(log, 64, time.Second, monitoring)
	ctx, cancel := context.WithCancel(context.Background())
	fanoutDone := make(chan struct{})
	go func() {
		_ = memoryBus.Worker().Run(ctx)
		close(fanoutDone)
	}()

	messages := repositories.NewMessageRepository(db, log, monitoring)
	conversations := repositories.NewConversationRepository(db, log, monitoring)
	users := repositories.NewUserRepository(db, monitoring)
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)

	sockets := server.NewSocketServer(log, memoryBus, conversations, monitoring, 64)
	api := server.NewServer(log, "", issuer, server.Services{
		Chat:      services.NewChatService(log, messages, conversations, users, memoryBus, nil, monitoring, 2000),
		Directory: services.NewDirectoryService(log, conversations, messages, users),
		Auth:      services.NewAuthService(log, users, issuer, index),
		Users:     services.NewUserService(log, users, index),
	}, sockets, monitoring)
	httpServer := httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		httpServer.Close()
		cancel()
		<-fanoutDone
		_ = memoryBus.Close()
		_ = index.Close()
		_ = db.Close()
	})
	return stack{url: httpServer.URL, log: log, conversations: conversations, messages: messages}
}

// register creates an account and returns a connected session for it.
func (s stack) register(t *testing.T, name string, httpClient *http.Client) *Session {
	t.Helper()
	api := NewAPI(s.url, httpClient)
	_, err := api.Register(context.Background(), auth.RegisterRequest{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	session, err := Connect(context.Background(), s.log, api, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// dropSendResponse lets message sends reach the server, then loses the answer,
// as a network failure after persistence would.
type dropSendResponse struct {
	next http.RoundTripper
}

func (d dropSendResponse) RoundTrip(r *http.Request) (*http.Response, error) {
	response, err := d.next.RoundTrip(r)
	if err != nil || !strings.HasSuffix(r.URL.Path, "/api/messages/send") {
		return response, err
	}
	_ = response.Body.Close()
	return nil, errConnectionReset
}

var errConnectionReset = fmt.Errorf("connection reset by peer")

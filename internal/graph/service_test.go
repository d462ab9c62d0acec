package graph

import (
	"context"
	"testing"
	"time"

	"github.com/quickdesk/quickdesk/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	token Token
	err   error
	code  string
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code string) (Token, error) {
	f.code = code
	return f.token, f.err
}

type fakeConnSource struct {
	saved   *Connection
	stored  Connection
	getErr  error
	deleted bool
}

func (f *fakeConnSource) Save(_ context.Context, conn Connection) (Connection, error) {
	f.saved = &conn
	return conn, nil
}

func (f *fakeConnSource) Get(context.Context, string, string) (Connection, error) {
	return f.stored, f.getErr
}

func (f *fakeConnSource) Delete(context.Context, string, string) error {
	f.deleted = true
	return nil
}

type fakeSyncRunner struct {
	got    Connection
	result Result
}

func (f *fakeSyncRunner) Sync(_ context.Context, conn Connection) (Result, error) {
	f.got = conn
	return f.result, nil
}

func TestConnectStoresExchangedTokens(t *testing.T) {
	exchanger := &fakeExchanger{token: Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	conns := &fakeConnSource{}
	svc, err := NewService(exchanger, conns, &fakeSyncRunner{}, log.NewNop())
	require.NoError(t, err)

	conn, err := svc.Connect(t.Context(), "team-a", "alex", "auth-code")
	require.NoError(t, err)

	assert.Equal(t, "auth-code", exchanger.code)
	require.NotNil(t, conns.saved)
	assert.Equal(t, "at", conn.AccessToken)
	assert.Equal(t, "rt", conn.RefreshToken)
	assert.True(t, conn.SyncEnabled)
	assert.Equal(t, "team-a", conn.TenantID)
	assert.Equal(t, "alex", conn.UserID)
}

func TestConnectRejectedCode(t *testing.T) {
	conns := &fakeConnSource{}
	svc, err := NewService(&fakeExchanger{err: ErrTokenRejected}, conns, &fakeSyncRunner{}, log.NewNop())
	require.NoError(t, err)

	_, err = svc.Connect(t.Context(), "team-a", "alex", "bad-code")
	require.ErrorIs(t, err, ErrTokenRejected)
	assert.Nil(t, conns.saved)
}

func TestSyncUsesStoredConnection(t *testing.T) {
	conns := &fakeConnSource{stored: validConnection()}
	runner := &fakeSyncRunner{result: Result{Chats: 1, Messages: 3}}
	svc, err := NewService(&fakeExchanger{}, conns, runner, log.NewNop())
	require.NoError(t, err)

	result, err := svc.Sync(t.Context(), "team-a", "alex")
	require.NoError(t, err)

	assert.Equal(t, Result{Chats: 1, Messages: 3}, result)
	assert.Equal(t, conns.stored.ID, runner.got.ID)
}

func TestSyncWithoutConnection(t *testing.T) {
	conns := &fakeConnSource{getErr: ErrConnectionNotFound}
	svc, err := NewService(&fakeExchanger{}, conns, &fakeSyncRunner{}, log.NewNop())
	require.NoError(t, err)

	_, err = svc.Sync(t.Context(), "team-a", "alex")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestDisconnect(t *testing.T) {
	conns := &fakeConnSource{}
	svc, err := NewService(&fakeExchanger{}, conns, &fakeSyncRunner{}, log.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect(t.Context(), "team-a", "alex"))
	assert.True(t, conns.deleted)
}

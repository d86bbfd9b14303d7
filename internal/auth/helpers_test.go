package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"session-bridge/internal/identity"
	"session-bridge/internal/identity/identitytest"
	"session-bridge/internal/session"
)

type putCall struct {
	token  string
	stored session.Stored
	ttl    time.Duration
}

// memStore is a counting in-memory session.Store.
type memStore struct {
	mu      sync.Mutex
	data    map[string]session.Stored
	puts    []putCall
	gets    int
	deletes int

	getErr error
	putErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]session.Stored)}
}

func (m *memStore) Get(_ context.Context, token string) (*session.Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.data[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) Put(_ context.Context, token string, s session.Stored, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts = append(m.puts, putCall{token: token, stored: s, ttl: ttl})
	m.data[token] = s
	return nil
}

func (m *memStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, token)
	return nil
}

func (m *memStore) entry(token string) (session.Stored, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[token]
	return s, ok
}

var errStoreDown = errors.New("kv unavailable")

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

const testEmail = "a@b.com"

func newFakeIdP() *identitytest.Provider {
	idp := identitytest.New()
	idp.AddUser(identity.User{ID: "user-1", Email: testEmail, Role: "user"}, "secret123")
	return idp
}

type fixture struct {
	store     *memStore
	idp       *identitytest.Provider
	issuer    *Issuer
	bridge    *Bridge
	validator *Validator
}

func newFixture() *fixture {
	store := newMemStore()
	idp := newFakeIdP()

	issuer := NewIssuer(store, DefaultCeiling)
	issuer.now = fixedClock

	bridge := NewBridge(store, idp, RoleUser)
	bridge.now = fixedClock

	return &fixture{
		store:     store,
		idp:       idp,
		issuer:    issuer,
		bridge:    bridge,
		validator: NewValidator(bridge),
	}
}

// login issues an opaque session through a fresh password login.
func (f *fixture) login(t interface{ Fatal(...any) }) string {
	idSess, err := f.idp.PasswordLogin(context.Background(), testEmail, "secret123")
	if err != nil {
		t.Fatal(err)
	}
	issued, err := f.issuer.Issue(context.Background(), idSess)
	if err != nil {
		t.Fatal(err)
	}
	return issued.Token
}

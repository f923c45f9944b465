package service_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"realtime_go/internal/domain"
	"realtime_go/internal/event"
	"realtime_go/internal/notify"
	"realtime_go/internal/router"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockStore) UpdateMessage(ctx context.Context, id, sender, content string) error {
	return m.Called(ctx, id, sender, content).Error(0)
}

func (m *MockStore) DeleteMessage(ctx context.Context, id, sender string) error {
	return m.Called(ctx, id, sender).Error(0)
}

func (m *MockStore) CreateCommunityMessage(ctx context.Context, msg *domain.CommunityMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockStore) UpsertUser(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *MockStore) SetOnlineStatus(ctx context.Context, username string, isOnline bool) error {
	return m.Called(ctx, username, isOnline).Error(0)
}

func (m *MockStore) SetLastSeen(ctx context.Context, username string, at time.Time) error {
	return m.Called(ctx, username, at).Error(0)
}

func (m *MockStore) ListPushTokens(ctx context.Context, username string) ([]string, error) {
	args := m.Called(ctx, username)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) AddPushToken(ctx context.Context, t *domain.PushToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockStore) RemovePushToken(ctx context.Context, username, token string) error {
	return m.Called(ctx, username, token).Error(0)
}

type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) RoutePrivate(t event.Type, sender, recipient string, payload any) (router.Result, error) {
	args := m.Called(t, sender, recipient, payload)
	return args.Get(0).(router.Result), args.Error(1)
}

func (m *MockRouter) RouteCommunity(ctx context.Context, t event.Type, communityID, sender string, payload any) (router.Result, error) {
	args := m.Called(ctx, t, communityID, sender, payload)
	return args.Get(0).(router.Result), args.Error(1)
}

func (m *MockRouter) RouteTyping(t event.Type, p event.Typing, originConn string) (router.Result, error) {
	args := m.Called(t, p, originConn)
	return args.Get(0).(router.Result), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Wants(category string, online bool) bool {
	return m.Called(category, online).Bool(0)
}

func (m *MockNotifier) Enqueue(req notify.Request) bool {
	return m.Called(req).Bool(0)
}

type plainSealer struct{}

func (plainSealer) Seal(plain string) (string, error) { return "sealed:" + plain, nil }

type stubOnline map[string]bool

func (s stubOnline) IsOnline(username string) bool { return s[username] }

func (s stubOnline) Online() []string {
	var out []string
	for u, ok := range s {
		if ok {
			out = append(out, u)
		}
	}
	return out
}

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"admissionchat/models"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) CreateUser(ctx context.Context, name, password string) (int64, error) {
	args := m.Called(ctx, name, password)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StoreMock) UserExists(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) UserIDsExcept(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *StoreMock) InsertMessage(ctx context.Context, msg models.Message) (int64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StoreMock) UnreadFor(ctx context.Context, userID int64) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StoreMock) MarkRead(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *StoreMock) History(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StoreMock) UpsertStatus(ctx context.Context, userID int64, status string, at time.Time) error {
	args := m.Called(ctx, userID, status, at)
	return args.Error(0)
}

func (m *StoreMock) GetPresence(ctx context.Context, userID int64) (models.Presence, error) {
	args := m.Called(ctx, userID)
	var p models.Presence
	if val := args.Get(0); val != nil {
		p = val.(models.Presence)
	}
	return p, args.Error(1)
}

func (m *StoreMock) ResetAllOffline(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

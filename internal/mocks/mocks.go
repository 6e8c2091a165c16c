package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/models"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	args := m.Called(ctx, conv)
	var created models.Conversation
	if val := args.Get(0); val != nil {
		created = val.(models.Conversation)
	}
	return created, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversationsForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepositoryMock) AddMember(ctx context.Context, conversationID int, userID int, role models.Role) error {
	args := m.Called(ctx, conversationID, userID, role)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) RemoveMember(ctx context.Context, conversationID int, userID int) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) GetMembership(ctx context.Context, conversationID int, userID int) (models.Membership, error) {
	args := m.Called(ctx, conversationID, userID)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Error(1)
}

func (m *ConversationRepositoryMock) ListMembers(ctx context.Context, conversationID int) ([]models.Membership, error) {
	args := m.Called(ctx, conversationID)
	var members []models.Membership
	if val := args.Get(0); val != nil {
		members = val.([]models.Membership)
	}
	return members, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID int, senderID *int, draft models.MessageDraft) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, draft)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Like(ctx context.Context, messageID int, userID int) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Unlike(ctx context.Context, messageID int, userID int) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, conversationID int, readerID int) error {
	args := m.Called(ctx, conversationID, readerID)
	return args.Error(0)
}

type ScheduledMessageRepositoryMock struct {
	mock.Mock
}

func (m *ScheduledMessageRepositoryMock) CreateScheduled(ctx context.Context, conversationID int, senderID int, text string, at time.Time) (models.ScheduledMessage, error) {
	args := m.Called(ctx, conversationID, senderID, text, at)
	var sm models.ScheduledMessage
	if val := args.Get(0); val != nil {
		sm = val.(models.ScheduledMessage)
	}
	return sm, args.Error(1)
}

func (m *ScheduledMessageRepositoryMock) DueScheduled(ctx context.Context, now time.Time) ([]models.ScheduledMessage, error) {
	args := m.Called(ctx, now)
	var due []models.ScheduledMessage
	if val := args.Get(0); val != nil {
		due = val.([]models.ScheduledMessage)
	}
	return due, args.Error(1)
}

func (m *ScheduledMessageRepositoryMock) MarkSent(ctx context.Context, scheduledID int) (bool, error) {
	args := m.Called(ctx, scheduledID)
	return args.Bool(0), args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(ctx context.Context, userID int, title string, body string) error {
	args := m.Called(ctx, userID, title, body)
	return args.Error(0)
}

func (m *NotifierMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		conv    models.Conversation
		role    models.Role
		member  bool
		action  Action
		allowed bool
	}{
		{
			name:    "public read open to non-members",
			conv:    models.Conversation{ID: 1, CanSendMessages: true},
			action:  ActionRead,
			allowed: true,
		},
		{
			name:   "private read denied for non-members",
			conv:   models.Conversation{ID: 1, Private: true, CanSendMessages: true},
			action: ActionRead,
		},
		{
			name:    "private read allowed for members",
			conv:    models.Conversation{ID: 1, Private: true, CanSendMessages: true},
			member:  true,
			role:    models.RoleMember,
			action:  ActionRead,
			allowed: true,
		},
		{
			name:   "write requires membership even in public conversations",
			conv:   models.Conversation{ID: 1, CanSendMessages: true},
			action: ActionWrite,
		},
		{
			name:    "member may write when messages are enabled",
			conv:    models.Conversation{ID: 1, CanSendMessages: true},
			member:  true,
			role:    models.RoleMember,
			action:  ActionWrite,
			allowed: true,
		},
		{
			name:   "member write blocked when messages are disabled",
			conv:   models.Conversation{ID: 1},
			member: true,
			role:   models.RoleMember,
			action: ActionWrite,
		},
		{
			name:    "admin bypasses disabled messages",
			conv:    models.Conversation{ID: 1},
			member:  true,
			role:    models.RoleAdmin,
			action:  ActionWrite,
			allowed: true,
		},
		{
			name:    "owner bypasses disabled media",
			conv:    models.Conversation{ID: 1},
			member:  true,
			role:    models.RoleOwner,
			action:  ActionWriteMedia,
			allowed: true,
		},
		{
			name:   "member media blocked when media is disabled",
			conv:   models.Conversation{ID: 1, CanSendMessages: true},
			member: true,
			role:   models.RoleMember,
			action: ActionWriteMedia,
		},
		{
			name:    "member media allowed when media is enabled",
			conv:    models.Conversation{ID: 1, CanSendMessages: true, CanSendMedia: true},
			member:  true,
			role:    models.RoleMember,
			action:  ActionWriteMedia,
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convRepo := new(mocks.ConversationRepositoryMock)
			if tt.member {
				convRepo.On("GetMembership", mock.Anything, tt.conv.ID, 7).
					Return(models.Membership{ConversationID: tt.conv.ID, UserID: 7, Role: tt.role}, nil)
			} else {
				convRepo.On("GetMembership", mock.Anything, tt.conv.ID, 7).
					Return(models.Membership{}, repositories.ErrNotMember)
			}

			decision, err := NewOracle(convRepo).Authorize(context.Background(), 7, tt.conv, tt.action)

			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
		})
	}
}

func TestAuthorizePropagatesStorageErrors(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("GetMembership", mock.Anything, 1, 7).
		Return(models.Membership{}, assert.AnError)

	_, err := NewOracle(convRepo).Authorize(context.Background(), 7, models.Conversation{ID: 1}, ActionRead)

	assert.Error(t, err)
}

func TestAuthorizeByIDFailsClosedOnMissingConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("GetConversation", mock.Anything, 99).
		Return(models.Conversation{}, repositories.ErrConversationNotFound)

	decision, err := NewOracle(convRepo).AuthorizeByID(context.Background(), 7, 99, ActionRead)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorizeByIDResolvesConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("GetConversation", mock.Anything, 1).
		Return(models.Conversation{ID: 1, CanSendMessages: true}, nil)
	convRepo.On("GetMembership", mock.Anything, 1, 7).
		Return(models.Membership{ConversationID: 1, UserID: 7, Role: models.RoleMember}, nil)

	decision, err := NewOracle(convRepo).AuthorizeByID(context.Background(), 7, 1, ActionWrite)

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.RoleMember, decision.Role)
}

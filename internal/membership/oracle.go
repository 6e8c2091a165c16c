package membership

import (
	"context"
	"errors"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// Action is a privileged operation checked against a conversation.
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionWriteMedia Action = "write_media"
)

// Decision is the oracle's answer for one (user, conversation, action) query.
type Decision struct {
	Allowed bool
	Role    models.Role
}

// Oracle answers authorization queries from current storage state. It holds
// no state of its own and caches nothing: membership can change mid-session,
// so every privileged action re-queries.
type Oracle struct {
	convRepo repositories.ConversationRepository
}

// NewOracle constructs an Oracle.
func NewOracle(convRepo repositories.ConversationRepository) *Oracle {
	return &Oracle{convRepo: convRepo}
}

// Authorize decides whether the user may perform the action on the
// conversation. A missing conversation fails closed.
func (o *Oracle) Authorize(ctx context.Context, userID int, conv models.Conversation, action Action) (Decision, error) {
	member, err := o.convRepo.GetMembership(ctx, conv.ID, userID)
	if err != nil && !errors.Is(err, repositories.ErrNotMember) {
		return Decision{}, err
	}
	isMember := err == nil

	if conv.Private && !isMember {
		return Decision{}, nil
	}

	switch action {
	case ActionRead:
		// Public conversations are open for reading.
		if !conv.Private || isMember {
			return Decision{Allowed: true, Role: member.Role}, nil
		}
		return Decision{}, nil
	case ActionWrite, ActionWriteMedia:
		if !isMember {
			return Decision{}, nil
		}
		// Owners and admins bypass conversation-level permission flags.
		if member.Role == models.RoleOwner || member.Role == models.RoleAdmin {
			return Decision{Allowed: true, Role: member.Role}, nil
		}
		if !conv.CanSendMessages {
			return Decision{Role: member.Role}, nil
		}
		if action == ActionWriteMedia && !conv.CanSendMedia {
			return Decision{Role: member.Role}, nil
		}
		return Decision{Allowed: true, Role: member.Role}, nil
	}
	return Decision{}, nil
}

// AuthorizeByID resolves the conversation first, failing closed when it
// does not exist.
func (o *Oracle) AuthorizeByID(ctx context.Context, userID int, conversationID int, action Action) (Decision, error) {
	conv, err := o.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return Decision{}, nil
		}
		return Decision{}, err
	}
	return o.Authorize(ctx, userID, conv, action)
}

package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"Murmur/pkg/models"
)

// GetConversations returns the channels, private groups and direct messages of the user.
func (p *SlackProvider) GetConversations(ctx context.Context) ([]models.Conversation, error) {
	client, err := p.api()
	if err != nil {
		return nil, err
	}

	var out []models.Conversation
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel", "mpim", "im"},
		ExcludeArchived: true,
		Limit:           200,
	}
	for {
		channels, cursor, err := client.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		for _, ch := range channels {
			out = append(out, p.convertChannel(ctx, ch))
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	p.log("SlackProvider.GetConversations: found %d conversations\n", len(out))
	return out, nil
}

func (p *SlackProvider) convertChannel(ctx context.Context, ch slack.Channel) models.Conversation {
	conv := models.Conversation{
		ID:          ch.ID,
		Type:        models.ConversationGroup,
		Name:        ch.Name,
		UnreadCount: ch.UnreadCountDisplay,
		MemberCount: ch.NumMembers,
		MemberIDs:   append([]string(nil), ch.Members...),
		CreatedAt:   ch.Created.Time(),
	}
	if ch.IsIM {
		conv.Type = models.ConversationDirect
		conv.MemberCount = 2
		if user := p.lookupUser(ctx, ch.User); user != nil {
			conv.Name = displayName(user)
			conv.ContactInfo = &models.ContactInfo{
				DisplayName: conv.Name,
				AvatarURL:   avatarURL(user),
				Email:       user.Profile.Email,
				Phone:       user.Profile.Phone,
			}
		} else {
			conv.Name = ch.User
		}
	}
	if ch.Latest != nil && ch.Latest.Timestamp != "" {
		at := parseSlackTimestamp(ch.Latest.Timestamp)
		conv.LastMessageAt = &at
		conv.LastMessageText = ch.Latest.Text
	}
	conv.UpdatedAt = time.Now()
	return conv
}

// lookupUser returns cached user info, fetching it on a miss. It returns nil when the
// user cannot be resolved.
func (p *SlackProvider) lookupUser(ctx context.Context, userID string) *slack.User {
	if userID == "" {
		return nil
	}
	p.userCacheMu.RLock()
	user, cached := p.userCache[userID]
	p.userCacheMu.RUnlock()
	if cached {
		return user
	}

	client, err := p.api()
	if err != nil {
		return nil
	}
	user, err = client.GetUserInfoContext(ctx, userID)
	if err != nil || user == nil {
		p.log("SlackProvider.lookupUser: WARNING - failed to get user info for %s: %v\n", userID, err)
		return nil
	}
	p.userCacheMu.Lock()
	p.userCache[userID] = user
	p.userCacheMu.Unlock()
	return user
}

// displayName uses RealName if available, then DisplayName, then Name.
func displayName(user *slack.User) string {
	if user.RealName != "" {
		return user.RealName
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.Name
}

func avatarURL(user *slack.User) string {
	for _, u := range []string{user.Profile.Image512, user.Profile.Image192, user.Profile.Image72, user.Profile.Image48, user.Profile.Image32} {
		if u != "" {
			return u
		}
	}
	return ""
}

package twitcheventsub

import (
	"github.com/ichi0g0y/tip-roulette/internal/commands"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
	"github.com/joeyak/go-twitch-eventsub/v3"
	"go.uber.org/zap"
)

// Sink queues work for the tip processor.
type Sink interface {
	EnqueueTip(tip tips.Tip) error
	EnqueueCommand(cmd commands.Command, user commands.ChatUser) error
}

// chatMessageEvent は channel.chat.message のうちコマンド処理に必要な部分
type chatMessageEvent struct {
	ChatterUserID    string `json:"chatter_user_id"`
	ChatterUserLogin string `json:"chatter_user_login"`
	ChatterUserName  string `json:"chatter_user_name"`
	MessageID        string `json:"message_id"`
	Message          struct {
		Text string `json:"text"`
	} `json:"message"`
	Badges []struct {
		SetID string `json:"set_id"`
	} `json:"badges"`
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// HandleChannelCheer turns a bits cheer into a tip. Anonymous cheers are skipped
// because cooldowns and stats are keyed by username.
func HandleChannelCheer(sink Sink, message twitch.EventChannelCheer) {
	if message.User.UserID == "" || message.User.UserLogin == "" {
		logger.Info("Skipping anonymous cheer", zap.Int("bits", message.Bits))
		return
	}

	username := message.User.UserName
	if username == "" {
		username = message.User.UserLogin
	}
	if err := sink.EnqueueTip(tips.Tip{
		UserID:   message.User.UserID,
		Username: username,
		Tokens:   message.Bits,
	}); err != nil {
		logger.Error("Failed to enqueue cheer",
			zap.String("user", username),
			zap.Int("bits", message.Bits),
			zap.Error(err))
		return
	}

	logger.Info("Cheer queued for roulette",
		zap.String("user", username),
		zap.Int("bits", message.Bits))
}

// HandleChannelChatMessage queues roulette commands found in chat. Other messages are ignored.
func HandleChannelChatMessage(sink Sink, message chatMessageEvent) {
	cmd, ok := commands.Parse(message.Message.Text)
	if !ok {
		return
	}

	user := commands.ChatUser{
		UserID:        message.ChatterUserID,
		Login:         message.ChatterUserLogin,
		DisplayName:   message.ChatterUserName,
		IsBroadcaster: message.ChatterUserID != "" && message.ChatterUserID == message.BroadcasterUserID,
	}
	for _, b := range message.Badges {
		switch b.SetID {
		case "broadcaster":
			user.IsBroadcaster = true
		case "moderator":
			user.IsModerator = true
		}
	}

	if err := sink.EnqueueCommand(cmd, user); err != nil {
		logger.Error("Failed to enqueue chat command",
			zap.String("command", cmd.Name),
			zap.String("user", user.Login),
			zap.String("message_id", message.MessageID),
			zap.Error(err))
	}
}

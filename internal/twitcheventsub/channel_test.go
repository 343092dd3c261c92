package twitcheventsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ichi0g0y/tip-roulette/internal/commands"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
	"github.com/joeyak/go-twitch-eventsub/v3"
)

type commandCall struct {
	cmd  commands.Command
	user commands.ChatUser
}

type fakeSink struct {
	tips     []tips.Tip
	commands []commandCall
}

func (f *fakeSink) EnqueueTip(tip tips.Tip) error {
	f.tips = append(f.tips, tip)
	return nil
}

func (f *fakeSink) EnqueueCommand(cmd commands.Command, user commands.ChatUser) error {
	f.commands = append(f.commands, commandCall{cmd: cmd, user: user})
	return nil
}

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func TestHandleCheerNotification(t *testing.T) {
	sink := &fakeSink{}
	s := NewService(Config{ClientID: "cid", BroadcasterID: "b1"}, staticToken("tok"), sink, nil)

	s.handleNotification(twitch.SubChannelCheer, json.RawMessage(`{
		"is_anonymous": false,
		"user_id": "u1", "user_login": "alice", "user_name": "Alice",
		"broadcaster_user_id": "b1", "broadcaster_user_login": "streamer", "broadcaster_user_name": "Streamer",
		"message": "Cheer100 spin!", "bits": 100
	}`))
	s.handleNotification(twitch.SubChannelCheer, json.RawMessage(`{
		"is_anonymous": true, "user_id": null, "user_login": null, "user_name": null,
		"broadcaster_user_id": "b1", "message": "Cheer50", "bits": 50
	}`))

	if len(sink.tips) != 1 {
		t.Fatalf("tip count mismatch: got=%d want=1", len(sink.tips))
	}
	if got := sink.tips[0]; got.Username != "Alice" || got.Tokens != 100 || got.UserID != "u1" {
		t.Fatalf("unexpected tip: %+v", got)
	}
}

func TestHandleChatMessageNotification(t *testing.T) {
	sink := &fakeSink{}
	s := NewService(Config{ClientID: "cid", BroadcasterID: "b1"}, staticToken("tok"), sink, nil)

	s.handleNotification(twitch.SubChannelChatMessage, json.RawMessage(`{
		"broadcaster_user_id": "b1",
		"chatter_user_id": "u2", "chatter_user_login": "mod", "chatter_user_name": "Mod",
		"message_id": "m1",
		"message": {"text": "!setcost 75", "fragments": []},
		"badges": [{"set_id": "moderator", "id": "1", "info": ""}]
	}`))
	s.handleNotification(twitch.SubChannelChatMessage, json.RawMessage(`{
		"broadcaster_user_id": "b1",
		"chatter_user_id": "u3", "chatter_user_login": "viewer", "chatter_user_name": "Viewer",
		"message": {"text": "just chatting"}, "badges": []
	}`))
	s.handleNotification(twitch.SubChannelChatMessage, json.RawMessage(`{
		"broadcaster_user_id": "b1",
		"chatter_user_id": "b1", "chatter_user_login": "streamer", "chatter_user_name": "Streamer",
		"message": {"text": "!resetstats"}, "badges": []
	}`))

	if len(sink.commands) != 2 {
		t.Fatalf("command count mismatch: got=%d want=2", len(sink.commands))
	}
	first := sink.commands[0]
	if first.cmd.Name != "setcost" || len(first.cmd.Args) != 1 || first.cmd.Args[0] != "75" {
		t.Fatalf("unexpected command: %+v", first.cmd)
	}
	if !first.user.IsModerator || first.user.IsBroadcaster || first.user.Login != "mod" {
		t.Fatalf("unexpected user: %+v", first.user)
	}
	if !sink.commands[1].user.IsBroadcaster {
		t.Fatalf("broadcaster not detected: %+v", sink.commands[1].user)
	}
}

func TestSubscribeAllContinuesAfterFailure(t *testing.T) {
	original := subscribeEvent
	defer func() { subscribeEvent = original }()

	var requested []twitch.SubscribeRequest
	subscribeEvent = func(req twitch.SubscribeRequest) error {
		requested = append(requested, req)
		if req.Event == twitch.SubChannelCheer {
			return errors.New("forbidden")
		}
		return nil
	}

	s := NewService(Config{ClientID: "cid", BroadcasterID: "b1"}, staticToken("tok"), &fakeSink{}, nil)
	if got := s.subscribeAll(context.Background(), "session-1"); got != 1 {
		t.Fatalf("successful subscriptions mismatch: got=%d want=1", got)
	}
	if len(requested) != len(events) {
		t.Fatalf("all events should be attempted: got=%d want=%d", len(requested), len(events))
	}
	for _, req := range requested {
		if req.SessionID != "session-1" || req.AccessToken != "tok" || req.Condition["broadcaster_user_id"] != "b1" {
			t.Fatalf("unexpected request: %+v", req)
		}
	}
}

func TestStartRequiresConfig(t *testing.T) {
	s := NewService(Config{}, staticToken("tok"), &fakeSink{}, nil)
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got=%v", err)
	}
}

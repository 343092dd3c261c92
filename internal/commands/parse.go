package commands

import "strings"

// Command is a chat line of the form "!name arg1 arg2" or "/name ...".
type Command struct {
	Name string
	Args []string
}

// ChatUser identifies who sent a command.
type ChatUser struct {
	UserID        string
	Login         string
	DisplayName   string
	IsBroadcaster bool
	IsModerator   bool
}

// Name returns the display name, or the login when no display name is known.
func (u ChatUser) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Login
}

// Parse extracts a command from chat text. ok=false for ordinary chat.
func Parse(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '!' && text[0] != '/') {
		return Command{}, false
	}

	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}

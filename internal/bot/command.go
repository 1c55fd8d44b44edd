package bot

import (
	"errors"
	"strings"
)

// Action is a bot command verb.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionList   Action = "list"
	ActionPrice  Action = "price"
	ActionHelp   Action = "help"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingSymbol  = errors.New("missing symbol")
)

var aliases = map[string]Action{
	"add":    ActionAdd,
	"track":  ActionAdd,
	"remove": ActionRemove,
	"rm":     ActionRemove,
	"del":    ActionRemove,
	"delete": ActionRemove,
	"list":   ActionList,
	"ls":     ActionList,
	"price":  ActionPrice,
	"quote":  ActionPrice,
	"help":   ActionHelp,
}

// umbrella commands carry the verb as the first word of the text.
var umbrella = map[string]bool{"stock": true, "stocks": true, "watchlist": true}

// Command is one parsed request.
type Command struct {
	Action Action
	Symbol string
}

// ParseCommand accepts either a dedicated slash command ("/add", "tsla") or
// an umbrella one ("/stock", "add tsla"). An empty command parses the verb
// out of text, so "/add tsla" and "add tsla" work too. The symbol is
// returned as typed; the store normalizes it.
func ParseCommand(command, text string) (Command, error) {
	command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(command), "/"))
	args := strings.Fields(text)

	if command == "" || umbrella[command] {
		if len(args) == 0 {
			return Command{Action: ActionHelp}, nil
		}
		command = strings.ToLower(strings.TrimPrefix(args[0], "/"))
		args = args[1:]
	}

	action, ok := aliases[command]
	if !ok {
		return Command{}, ErrUnknownCommand
	}

	cmd := Command{Action: action}
	switch action {
	case ActionAdd, ActionRemove, ActionPrice:
		if len(args) == 0 {
			return cmd, ErrMissingSymbol
		}
		cmd.Symbol = args[0]
	}
	return cmd, nil
}

const helpText = "*Stock watchlist commands*\n" +
	"`/add <symbol>` track a symbol\n" +
	"`/remove <symbol>` stop tracking a symbol (aliases: rm, del)\n" +
	"`/list` show the watchlist (alias: ls)\n" +
	"`/price <symbol>` latest close vs the previous close (alias: quote)\n" +
	"`/help` show this message\n" +
	"Tracked symbols are checked every hour and an alert is posted when one moves more than the threshold."

// Command chatctl is a line-oriented chat client. It logs in, prints every
// server event and turns slash commands typed on stdin into protocol events.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/client"
	"github.com/Tyrowin/zodiacchat/internal/logging"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
)

const usage = `commands:
  /users                      list users and presence
  /groups                     list your groups
  /msg <userId> <text>        direct message
  /group <groupId> <text>     group message
  /typing <userId|groupId>    send a typing indicator (prefix group ids with #)
  /read <messageId>           mark a message read
  /create <name> [id,id...]   create a group
  /join <groupId>             join a group
  /history <userId|#groupId>  fetch recent messages
  /quit                       disconnect`

func main() {
	url := pflag.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
	origin := pflag.String("origin", "http://localhost:8080", "Origin header sent on the handshake")
	username := pflag.String("username", "", "username to log in as")
	zodiac := pflag.String("zodiac", "", "zodiac sign stored with a new user")
	register := pflag.Bool("register", false, "register instead of auth; fails if the username exists")
	logLevel := pflag.String("log-level", "warn", "debug, info, warn or error")
	pflag.Parse()

	logger, err := logging.New(*logLevel, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "--username is required")
		os.Exit(2)
	}

	m := client.New(client.Options{URL: *url, Origin: *origin, Logger: logger}, printEvent)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = m.Connect(ctx)
	cancel()
	if err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer func() { _ = m.Close() }()

	if *register {
		err = m.Register(*username, *zodiac)
	} else {
		err = m.Auth(*username, *zodiac)
	}
	if err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}

	fmt.Println(usage)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		msgType, payload, err := parseCommand(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		if err := m.Send(msgType, payload); err != nil {
			fmt.Println("send failed:", err)
		}
	}
}

func printEvent(env protocol.Envelope) {
	fmt.Printf("<< %s %s\n", env.Type, env.Payload)
}

// target splits "#id" into a group id and anything else into a user id.
func target(arg string) (recipientID, groupID string) {
	if strings.HasPrefix(arg, "#") {
		return "", strings.TrimPrefix(arg, "#")
	}
	return arg, ""
}

func parseCommand(line string) (string, interface{}, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	rest := func(n int) string {
		return strings.Join(args[n:], " ")
	}

	switch cmd {
	case "/users":
		return protocol.TypeGetUsers, struct{}{}, nil
	case "/groups":
		return protocol.TypeGetGroups, struct{}{}, nil
	case "/msg", "/group":
		if len(args) < 2 {
			return "", nil, fmt.Errorf("usage: %s <id> <text>", cmd)
		}
		msg := protocol.SendMessage{Content: rest(1), Type: "text"}
		if cmd == "/group" {
			msg.GroupID = args[0]
		} else {
			msg.RecipientID = args[0]
		}
		return protocol.TypeMessage, msg, nil
	case "/typing":
		if len(args) != 1 {
			return "", nil, errors.New("usage: /typing <userId|#groupId>")
		}
		r, g := target(args[0])
		return protocol.TypeTyping, protocol.Typing{RecipientID: r, GroupID: g, IsTyping: true}, nil
	case "/read":
		if len(args) != 1 {
			return "", nil, errors.New("usage: /read <messageId>")
		}
		return protocol.TypeRead, protocol.Read{MessageID: args[0]}, nil
	case "/create":
		if len(args) < 1 {
			return "", nil, errors.New("usage: /create <name> [id,id...]")
		}
		group := protocol.CreateGroup{Name: args[0], MemberIDs: []string{}}
		if len(args) > 1 {
			group.MemberIDs = strings.Split(args[1], ",")
		}
		return protocol.TypeCreateGroup, group, nil
	case "/join":
		if len(args) != 1 {
			return "", nil, errors.New("usage: /join <groupId>")
		}
		return protocol.TypeJoinGroup, protocol.JoinGroup{GroupID: args[0]}, nil
	case "/history":
		if len(args) != 1 {
			return "", nil, errors.New("usage: /history <userId|#groupId>")
		}
		r, g := target(args[0])
		return protocol.TypeGetMessages, protocol.GetMessages{RecipientID: r, GroupID: g}, nil
	default:
		return "", nil, fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/veritest/veritest/internal/chat"
	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

var (
	chatServer string
	chatTicket string
	chatUserID string
	chatName   string
	chatAgent  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a ticket conversation from the terminal",
	Long: `Chat connects to a Veritest server, joins the given ticket room, and
bridges the conversation to the terminal. Plain lines are sent as
messages; slash commands drive the rest:

  /more            load an older page of history
  /edit <id> <txt> rewrite one of your messages
  /delete <id>     delete one of your messages
  /read-all        mark the whole conversation read
  /who             list who is in the room
  /quit            leave and disconnect`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:8080", "Base URL of the Veritest server")
	chatCmd.Flags().StringVar(&chatTicket, "ticket", "", "Ticket ID to join")
	chatCmd.Flags().StringVar(&chatUserID, "user", "", "User ID to chat as")
	chatCmd.Flags().StringVar(&chatName, "name", "", "Display name (defaults to the user ID)")
	chatCmd.Flags().BoolVar(&chatAgent, "agent", false, "Connect with elevated support-agent rights")
	chatCmd.MarkFlagRequired("ticket")
	chatCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatName == "" {
		chatName = chatUserID
	}
	user := domain.User{ID: chatUserID, Name: chatName, Elevated: chatAgent}

	token, err := login(chatServer, user)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	wsURL, err := websocketURL(chatServer)
	if err != nil {
		return err
	}

	dialer := &chat.WebsocketDialer{URL: wsURL}
	persistence := chat.NewRESTClient(chatServer, token)
	session := chat.NewSession(dialer, persistence, user, chatTicket)

	session.OnNotice(func(n chat.Notice) {
		fmt.Printf("* %s\n", n.Text)
	})
	session.Store().OnChange(func(ch chat.Change) {
		printChange(session, ch)
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := session.Activate(ctx, token); err != nil {
		return fmt.Errorf("could not join ticket %s: %w", chatTicket, err)
	}
	defer session.Deactivate()

	for _, m := range session.Store().Messages() {
		printMessage(m)
	}
	fmt.Printf("Joined ticket %s as %s. Type /quit to leave.\n", chatTicket, user.Name)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := handleLine(ctx, session, line); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, session *chat.Session, line string) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch {
	case line == "/more":
		return session.LoadMore(opCtx)
	case line == "/read-all":
		return session.MarkAllRead(opCtx)
	case line == "/who":
		for _, u := range session.Presence().Online() {
			fmt.Printf("  %s (%s)\n", u.Name, u.ID)
		}
		return nil
	case strings.HasPrefix(line, "/edit "):
		rest := strings.TrimPrefix(line, "/edit ")
		id, content, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /edit <id> <new text>")
		}
		return session.Edit(opCtx, id, content)
	case strings.HasPrefix(line, "/delete "):
		return session.Delete(opCtx, strings.TrimPrefix(line, "/delete "))
	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("unknown command %q", line)
	default:
		_, err := session.Send(opCtx, line, nil, events.KindText)
		return err
	}
}

func printChange(session *chat.Session, ch chat.Change) {
	switch ch.Kind {
	case chat.ChangeAppend:
		if ch.Appended {
			for _, m := range session.Store().Messages() {
				if m.ID == ch.MessageID {
					printMessage(m)
					return
				}
			}
		}
	case chat.ChangeUpdate:
		for _, m := range session.Store().Messages() {
			if m.ID == ch.MessageID {
				fmt.Print("  (updated) ")
				printMessage(m)
				return
			}
		}
	}
}

func printMessage(m events.Message) {
	when := m.CreatedAt.Local().Format("15:04")
	content := m.Content
	if m.Deleted {
		content = "(deleted)"
	}
	suffix := ""
	if m.Pending {
		suffix = " …"
	} else if m.EditedAt != nil {
		suffix = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s  <%s>\n", when, m.Sender.Name, content, suffix, m.ID)
}

// login exchanges the user identity for a bearer token.
func login(server string, user domain.User) (string, error) {
	body, err := json.Marshal(map[string]any{
		"userId":   user.ID,
		"name":     user.Name,
		"elevated": user.Elevated,
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(server+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server rejected login with status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// websocketURL derives the realtime endpoint from the HTTP base URL.
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", server, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

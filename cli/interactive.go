package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"wastechat/api"
	"wastechat/chat"
	"wastechat/models"
)

const chatHelp = `Commands:
  /list              show conversations
  /search <text>     show conversations matching text
  /open <id>         open a conversation
  /close             close the open conversation
  /reload            fetch the open conversation again
  /quit              leave
Anything else is sent to the open conversation.`

func (a *app) chatCommand() *cobra.Command {
	var open int64

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat that follows new messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := a.signIn()
			if err != nil {
				return err
			}
			defer signed.Close()

			session, err := chat.NewSession(chat.Options{
				Backend:              signed.client,
				SelfID:               signed.session.UserID,
				ConversationInterval: a.cfg.Polling.Conversations,
				LatestInterval:       a.cfg.Polling.LatestMessages,
				PresenceInterval:     a.cfg.Polling.Presence,
				HeartbeatInterval:    a.cfg.Polling.Heartbeat,
				RequestTimeout:       a.cfg.RequestTimeout,
				Cache:                signed.store,
				Logger:               a.logger.Named("chat"),
			})
			if err != nil {
				return err
			}
			if err := session.Start(); err != nil {
				return err
			}

			out := &lockedWriter{w: cmd.OutOrStdout()}
			printer := &eventPrinter{out: out, selfID: signed.session.UserID}
			done := make(chan struct{})
			go func() {
				defer close(done)
				for event := range session.Events() {
					printer.print(event)
				}
			}()
			defer func() {
				session.Stop()
				<-done
			}()

			if err := session.RefreshConversations(cmd.Context()); err != nil {
				fmt.Fprintf(out, "! %s\n", commandMessage(err))
			}
			if open > 0 {
				if err := session.Select(open); err != nil {
					fmt.Fprintf(out, "! %s\n", commandMessage(err))
				}
			} else {
				printConversations(out, session.Conversations())
			}
			fmt.Fprintln(out, "Type /help for commands.")

			return runREPL(cmd, session, out)
		},
	}

	cmd.Flags().Int64Var(&open, "open", 0, "conversation to open on start")
	return cmd
}

func runREPL(cmd *cobra.Command, session *chat.Session, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-cmd.Context().Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-cmd.Context().Done():
			return nil
		case next, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(next)
		}
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if _, err := session.Send(cmd.Context(), line); err != nil && !errors.Is(err, chat.ErrSuperseded) {
				fmt.Fprintf(out, "! %s\n", commandMessage(err))
			}
			continue
		}

		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
		case "/list":
			printConversations(out, session.Conversations())
		case "/search":
			printConversations(out, session.Filter(arg))
		case "/open":
			id, err := parseID(arg, "conversation id")
			if err == nil {
				err = session.Select(id)
			}
			if errors.Is(err, chat.ErrUnknownConversation) {
				if refreshErr := session.RefreshConversations(cmd.Context()); refreshErr == nil {
					err = session.Select(id)
				}
			}
			if err != nil {
				fmt.Fprintf(out, "! %s\n", commandMessage(err))
			}
		case "/close":
			session.Deselect()
			fmt.Fprintln(out, "Conversation closed")
		case "/reload":
			if err := session.Reload(); err != nil {
				fmt.Fprintf(out, "! %s\n", commandMessage(err))
			}
		default:
			fmt.Fprintf(out, "! unknown command %s, try /help\n", name)
		}
	}
}

// commandMessage prefers the backend's user-facing message.
func commandMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrNoConversation):
		return "Open a conversation first (/open <id>)"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Message is empty"
	}
	return api.UserMessage(err, err.Error())
}

type eventPrinter struct {
	out    io.Writer
	selfID int64

	conversations map[int64]models.Conversation
	online        *bool
}

func (p *eventPrinter) print(event chat.Event) {
	switch event.Type {
	case chat.EventConversations:
		p.conversations = make(map[int64]models.Conversation, len(event.Conversations))
		for _, conversation := range event.Conversations {
			p.conversations[conversation.ID] = conversation
		}
	case chat.EventPaneState:
		switch event.State {
		case chat.PaneLoading:
			p.online = nil
			name := p.conversations[event.ConversationID].Counterparty().Name
			if name == "" {
				name = fmt.Sprintf("conversation %d", event.ConversationID)
			}
			fmt.Fprintf(p.out, "-- %s --\n", name)
		case chat.PaneLoadFailed:
			fmt.Fprintln(p.out, "! history could not be loaded, /reload to retry")
		}
	case chat.EventMessagesReplaced, chat.EventMessagesAppended:
		for _, message := range event.Messages {
			printMessage(p.out, message, p.selfID)
		}
	case chat.EventPresence:
		if event.Presence == nil {
			return
		}
		if p.online != nil && *p.online == event.Presence.Active {
			return
		}
		active := event.Presence.Active
		p.online = &active
		status := "offline"
		if event.Presence.Active {
			status = "online"
		}
		fmt.Fprintf(p.out, "(%s)\n", status)
	case chat.EventNotice:
		fmt.Fprintf(p.out, "! %s\n", event.Notice)
	}
}

// lockedWriter serializes output from the REPL and the event printer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wastechat/chat"
	"wastechat/models"
	"wastechat/storage"
)

func (a *app) conversationsCommand() *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := a.signIn()
			if err != nil {
				return err
			}
			defer signed.Close()

			conversations, err := signed.client.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			models.SortByActivity(conversations)
			if err := signed.store.SaveConversations(conversations); err != nil {
				a.logger.Warn("cache conversations failed", zap.Error(err))
			}

			filtered := conversations[:0:0]
			for _, conversation := range conversations {
				if conversation.Matches(search) {
					filtered = append(filtered, conversation)
				}
			}
			return printConversations(cmd.OutOrStdout(), filtered)
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "only show conversations whose name or latest message contains this text")
	return cmd
}

func (a *app) startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <user-id>",
		Short: "Start a conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipientID, err := parseID(args[0], "user id")
			if err != nil {
				return err
			}

			signed, err := a.signIn()
			if err != nil {
				return err
			}
			defer signed.Close()

			conversation, err := signed.client.StartConversation(cmd.Context(), recipientID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d\n", conversation.ID)
			return nil
		},
	}
}

func (a *app) sendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Send one message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, err := parseID(args[0], "conversation id")
			if err != nil {
				return err
			}
			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if content == "" {
				return chat.ErrEmptyMessage
			}

			signed, err := a.signIn()
			if err != nil {
				return err
			}
			defer signed.Close()

			conversation, err := findConversation(cmd, signed, conversationID)
			if err != nil {
				return err
			}

			created, err := signed.client.SendMessage(cmd.Context(), models.OutgoingMessage{
				ConversationID: conversationID,
				SenderID:       signed.session.UserID,
				RecipientID:    conversation.CounterpartyID(signed.session.UserID),
				Content:        content,
			})
			if err != nil {
				return err
			}
			if _, err := signed.store.SaveMessages(conversationID, []models.Message{created}); err != nil {
				a.logger.Warn("cache sent message failed", zap.Error(err))
			}

			printMessage(cmd.OutOrStdout(), created, signed.session.UserID)
			return nil
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	var (
		page    int
		limit   int
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a conversation's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, err := parseID(args[0], "conversation id")
			if err != nil {
				return err
			}

			if offline {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				vault, err := a.openVault(store)
				if err != nil {
					return err
				}
				var selfID int64
				if session, err := vault.Load(); session != nil && err == nil {
					selfID = session.UserID
				}

				messages, err := store.LoadMessages(conversationID, limit)
				if err != nil {
					return err
				}
				for _, message := range messages {
					printMessage(cmd.OutOrStdout(), message, selfID)
				}
				return nil
			}

			signed, err := a.signIn()
			if err != nil {
				return err
			}
			defer signed.Close()

			result, err := signed.client.ListMessages(cmd.Context(), conversationID, page)
			if err != nil {
				return err
			}
			messages := result.Chronological()
			if _, err := signed.store.SaveMessages(conversationID, messages); err != nil {
				a.logger.Warn("cache history failed", zap.Error(err))
			}

			for _, message := range messages {
				printMessage(cmd.OutOrStdout(), message, signed.session.UserID)
			}
			if result.Pagination.TotalPages > result.Pagination.Page {
				fmt.Fprintf(cmd.OutOrStdout(), "(page %d of %d; use --page for older messages)\n",
					result.Pagination.Page, result.Pagination.TotalPages)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "history page, 1 is the newest")
	cmd.Flags().IntVar(&limit, "limit", 50, "messages to show with --offline")
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local transcript cache instead of the backend")
	return cmd
}

// findConversation prefers the cached copy and asks the backend otherwise.
func findConversation(cmd *cobra.Command, signed *signedIn, conversationID int64) (models.Conversation, error) {
	cached, err := signed.store.GetConversation(conversationID)
	if err == nil {
		return *cached, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Conversation{}, err
	}

	conversations, err := signed.client.ListConversations(cmd.Context())
	if err != nil {
		return models.Conversation{}, err
	}
	for _, conversation := range conversations {
		if conversation.ID == conversationID {
			return conversation, nil
		}
	}
	return models.Conversation{}, fmt.Errorf("conversation %d: %w", conversationID, chat.ErrUnknownConversation)
}

func (a *app) pruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop cached messages older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be > 0")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pruned, err := store.PruneMessagesBefore(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached messages\n", pruned)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest message to keep")
	return cmd
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, raw)
	}
	return id, nil
}

package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"wastechat/models"
)

const previewWidth = 48

func printConversations(w io.Writer, conversations []models.Conversation) error {
	if len(conversations) == 0 {
		_, err := fmt.Fprintln(w, "No conversations")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWITH\tLAST ACTIVITY\tUNREAD\tLATEST")
	for _, conversation := range conversations {
		activity := "-"
		if conversation.LatestConversation != nil {
			activity = conversation.LatestConversation.Local().Format("2006-01-02 15:04")
		}
		unread := ""
		if conversation.HasUnread() {
			unread = fmt.Sprint(conversation.UnreadMessagesCount)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			conversation.ID,
			conversation.Counterparty().Name,
			activity,
			unread,
			truncate(conversation.Preview(), previewWidth),
		)
	}
	return tw.Flush()
}

func printMessage(w io.Writer, message models.Message, selfID int64) {
	who := message.Sender.Name
	if message.Sender.ID == selfID {
		who = "you"
	} else if who == "" {
		who = fmt.Sprintf("user %d", message.Sender.ID)
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", message.CreatedAt.Local().Format("01-02 15:04"), who, message.Content)
}

func truncate(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-1]) + "…"
}

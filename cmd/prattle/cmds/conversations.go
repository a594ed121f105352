package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// NewConversationsCommand lists and manages stored conversations.
func NewConversationsCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage stored conversations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, c := range a.store.Conversations() {
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  %s\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04"), title)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			thread, err := a.store.Messages(id)
			if err != nil {
				return err
			}
			for _, m := range thread {
				role := "assistant"
				if m.IsUser {
					role = "user"
				}
				fmt.Printf("[%s] %s\n", role, m.Text)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			return a.store.DeleteConversation(id)
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete all conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.store.DeleteAllConversations()
		},
	}

	cmd.AddCommand(list, show, del, clear)
	return cmd
}

func parseNodeID(s string) (conversation.NodeID, error) {
	return conversation.ParseNodeID(s)
}

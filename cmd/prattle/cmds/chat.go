package cmds

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/engine"
	"github.com/go-go-golems/prattle/pkg/events"
)

// NewChatCommand runs an interactive chat session against the engine.
// Slash commands mirror the desktop client's buttons: /cancel, /regenerate,
// /new, /quit; /image and /doc attach a file to the next turn.
func NewChatCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			a.router.AddHandler("chat-ui", func(ctx context.Context, ev events.Event) error {
				if _, ok := ev.(*events.EventQuotaDenied); ok {
					fmt.Println("Free message limit reached — upgrade to continue.")
				}
				return nil
			})
			a.Start()

			return runREPL(cmd.Context(), a)
		},
	}
	return cmd
}

func runREPL(ctx context.Context, a *app) error {
	scanner := bufio.NewScanner(os.Stdin)
	var attachment *engine.AttachmentInput

	fmt.Println("prattle — type a message, /quit to exit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			a.engine.Cancel()
			return nil

		case line == "/cancel":
			a.engine.Cancel()
			continue

		case line == "/new":
			if err := a.engine.SetActiveConversation(conversation.NullNode); err != nil {
				fmt.Println("error:", err)
			}
			continue

		case line == "/regenerate":
			regenerate(ctx, a)
			continue

		case strings.HasPrefix(line, "/image "):
			attachment = &engine.AttachmentInput{
				Kind: conversation.AttachmentImage,
				Path: strings.TrimSpace(strings.TrimPrefix(line, "/image ")),
			}
			fmt.Println("image attached to next message")
			continue

		case strings.HasPrefix(line, "/doc "):
			attachment = &engine.AttachmentInput{
				Kind: conversation.AttachmentDocument,
				Path: strings.TrimSpace(strings.TrimPrefix(line, "/doc ")),
			}
			fmt.Println("document attached to next message")
			continue
		}

		pending, err := a.engine.Send(ctx, line, attachment)
		attachment = nil
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		printResult(pending.Wait())
	}
}

func regenerate(ctx context.Context, a *app) {
	active := a.engine.ActiveConversation()
	if active == conversation.NullNode {
		fmt.Println("nothing to regenerate")
		return
	}
	thread, err := a.store.Messages(active)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	last := thread.LastUserMessage()
	if last == nil {
		fmt.Println("nothing to regenerate")
		return
	}
	pending, err := a.engine.Regenerate(ctx, last.ID)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printResult(pending.Wait())
}

func printResult(res engine.Result) {
	switch res.Outcome {
	case engine.OutcomeSucceeded:
		fmt.Println(res.Reply)
	case engine.OutcomeCancelled:
		fmt.Println("(cancelled)")
	case engine.OutcomeQuotaDenied:
		// the quota handler already printed the upsell
	case engine.OutcomeRecoverableFailure:
		fmt.Println("(connection lost — use /regenerate to retry)")
	case engine.OutcomeProviderFailure:
		fmt.Println("(request failed:", res.Err, ")")
	}
}

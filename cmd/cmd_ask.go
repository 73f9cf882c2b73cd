package main

import (
	"fmt"
	"io"
	"strings"

	"askgpt-backend/internal/model"
	"askgpt-backend/internal/service"

	"github.com/spf13/cobra"
)

var (
	askPrompt         string
	askContext        bool
	askConversationID string
	askParentID       string

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
)

func init() {
	askCmd.Flags().StringVarP(&askPrompt, "prompt", "p", "", "system prompt for this question (defaults to the saved one)")
	askCmd.Flags().BoolVar(&askContext, "context", false, "send prior turns of the conversation (defaults to the saved setting)")
	askCmd.Flags().StringVar(&askConversationID, "conversation-id", "", "continue this conversation")
	askCmd.Flags().StringVar(&askParentID, "parent-message-id", "", "reply to this message")
}

// streamPrinter prints only what is new. Cumulative responses carry the text so far;
// otherwise each response is a delta and is printed as is.
type streamPrinter struct {
	out        io.Writer
	cumulative bool
	shown      string
}

func (p *streamPrinter) print(content string) {
	if !p.cumulative {
		fmt.Fprint(p.out, content)
		p.shown += content
		return
	}
	if strings.HasPrefix(content, p.shown) {
		fmt.Fprint(p.out, content[len(p.shown):])
	} else {
		// 文本被整体替换，另起一行
		fmt.Fprint(p.out, "\n"+content)
	}
	p.shown = content
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	current := a.settings.Get()
	session := current
	if cmd.Flags().Changed("context") {
		session.UseChatContext = askContext
	}

	question := model.Question{
		Question:        strings.Join(args, " "),
		Prompts:         askPrompt,
		ConversationID:  askConversationID,
		ParentMessageID: askParentID,
	}

	printer := &streamPrinter{out: cmd.OutOrStdout(), cumulative: a.chat.Cumulative(session)}
	var failure error
	next, err := a.chat.Ask(cmd.Context(), session, question, service.Callbacks{
		OnResponse: func(resp model.Response) { printer.print(resp.Content) },
		OnError:    func(err error) { failure = err },
	})
	if err != nil {
		return err
	}
	if printer.shown != "" {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	if failure != nil {
		return failure
	}

	return a.saveConversation(current, next)
}

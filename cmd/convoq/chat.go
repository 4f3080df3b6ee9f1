package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/convoq/internal/conversation"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: "Start an interactive conversation. Type /refresh to move the conversation\n" +
			"to a fresh thread with a summary, /id to print the conversation id and\n" +
			"/quit to leave.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd, "gateway")
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.Start(); err != nil {
				return err
			}

			ctx := commandContext(cmd)
			id, _ := cmd.Flags().GetString("conversation")
			if id == "" {
				c, err := env.Manager.CreateConversation(ctx)
				if err != nil {
					return err
				}
				id = c.ID
			} else if _, err := env.Manager.Get(ctx, id); err != nil {
				return err
			}

			s := &chatSession{manager: env.Manager, id: id, out: cmd.OutOrStdout()}
			fmt.Fprintf(s.out, "conversation %s\n", id)
			return s.loop(ctx, huhPrompt)
		},
	}
	cmd.Flags().String("conversation", "", "Resume an existing conversation")
	return cmd
}

// huhPrompt reads one line. An aborted prompt (ctrl+c) ends the session.
func huhPrompt() (string, error) {
	var line string
	err := huh.NewInput().
		Title("you").
		Prompt("> ").
		Value(&line).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", io.EOF
	}
	return line, err
}

type chatSession struct {
	manager *conversation.Manager
	id      string
	out     io.Writer
}

func (s *chatSession) loop(ctx context.Context, prompt func() (string, error)) error {
	for {
		line, err := prompt()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		done, err := s.handle(ctx, strings.TrimSpace(line))
		if err != nil || done {
			return err
		}
	}
}

// handle processes one input line and reports whether the session is over.
func (s *chatSession) handle(ctx context.Context, line string) (bool, error) {
	switch line {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/id":
		fmt.Fprintln(s.out, s.id)
		return false, nil
	case "/refresh":
		res, err := s.manager.RefreshContext(ctx, s.id)
		if err != nil {
			return false, err
		}
		if res.Status != conversation.RefreshSuccess {
			fmt.Fprintf(s.out, "refresh failed: %s\n", res.Error)
			return false, nil
		}
		fmt.Fprintf(s.out, "moved to thread %s\n", res.NewThreadID)
		return false, nil
	}

	resp, err := s.manager.ProcessMessage(ctx, s.id, line)
	if err != nil {
		return false, err
	}
	if resp.Action == conversation.ActionError {
		fmt.Fprintf(s.out, "error: %s\n", resp.Response)
		return false, nil
	}
	fmt.Fprintf(s.out, "assistant: %s\n", resp.Response)
	return false, nil
}

package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

func (a *app) chatCommand() *cobra.Command {
	var (
		items  []string
		model  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "chat <session> <message>",
		Short: "Send a message to a chat session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseItems(items)
			if err != nil {
				return err
			}
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			stream, err := c.Chat(args[0]).Send(ctx, askdex.ChatRequest{
				Message: strings.Join(args[1:], " "),
				Items:   sel,
				Model:   model,
			})
			if err != nil {
				return err
			}
			return a.render(stream, asJSON)
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", nil, "context item as id=level; repeatable")
	cmd.Flags().StringVar(&model, "model", "", "pin the model for this turn")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw events as JSON lines")

	history := &cobra.Command{
		Use:   "history <session>",
		Short: "Print the persisted turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			turns, err := c.Chat(args[0]).Turns(ctx)
			if err != nil {
				return err
			}
			for _, t := range turns {
				role := color.BlueString("%s", t.Role)
				if t.Role == "assistant" {
					role = color.GreenString("%s", t.Role)
				}
				meta := t.CreatedAt.Format("2006-01-02 15:04:05")
				if t.ModelOverride != "" {
					meta += " model=" + t.ModelOverride
				}
				fmt.Fprintf(a.out, "%s %s\n%s\n\n", role, faint(meta), t.Content)
			}
			return nil
		},
	}
	remove := &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			if err := c.Chat(args[0]).Delete(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted session %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(history, remove)
	return cmd
}

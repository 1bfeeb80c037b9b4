package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	failed  = color.New(color.FgRed, color.Bold).SprintFunc()
)

func (a *app) askCommand() *cobra.Command {
	var (
		items  []string
		req    askdex.AskRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question over the ingested sources",
		Example: "  askdexctl ask \"How do A and B differ?\" --item guide=full --item notes=summary\n" +
			"  askdexctl ask \"What is A?\" --model gpt-4o",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseItems(items)
			if err != nil {
				return err
			}
			req.Question = strings.Join(args, " ")
			req.Items = sel

			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			stream, err := c.Ask(ctx, req)
			if err != nil {
				return err
			}
			return a.render(stream, asJSON)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&items, "item", nil, "context item as id=level (full, summary, excluded); repeatable")
	f.StringVar(&req.Model, "model", "", "pin one model for every stage, disabling fallback")
	f.StringVar(&req.StrategyModel, "strategy-model", "", "model for the planning stage")
	f.StringVar(&req.AnswerModel, "answer-model", "", "model for per-query answers")
	f.StringVar(&req.FinalAnswerModel, "final-model", "", "model for the final synthesis")
	f.BoolVar(&asJSON, "json", false, "print raw events as JSON lines")
	return cmd
}

// parseItems turns id=level pairs into context items. A bare id means full.
func parseItems(raw []string) ([]askdex.ContextItem, error) {
	out := make([]askdex.ContextItem, 0, len(raw))
	for _, r := range raw {
		id, level, found := strings.Cut(r, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid --item %q: empty id", r)
		}
		lv := askdex.LevelFull
		if found {
			lv = askdex.Level(strings.TrimSpace(level))
		}
		switch lv {
		case askdex.LevelFull, askdex.LevelSummary, askdex.LevelExcluded:
		default:
			return nil, fmt.Errorf("invalid --item %q: level must be full, summary or excluded", r)
		}
		out = append(out, askdex.ContextItem{ID: id, Level: lv})
	}
	return out, nil
}

// render prints a stream as it arrives and returns the terminal error, if any.
func (a *app) render(stream *askdex.Stream, asJSON bool) error {
	defer func() { _ = stream.Close() }()

	enc := json.NewEncoder(a.out)
	for stream.Next() {
		ev := stream.Event()
		if asJSON {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		a.printEvent(&ev)
	}
	return stream.Err()
}

func (a *app) printEvent(ev *askdex.Event) {
	switch ev.Type {
	case askdex.EventStrategy:
		if ev.Strategy == nil {
			return
		}
		fmt.Fprintf(a.out, "%s %s\n", heading("Plan:"), ev.Strategy.Reasoning)
		for i, q := range ev.Strategy.Queries {
			if q.Intent != "" {
				fmt.Fprintf(a.out, "  %d. %s (%s)\n", i+1, q.Term, q.Intent)
				continue
			}
			fmt.Fprintf(a.out, "  %d. %s\n", i+1, q.Term)
		}
		fmt.Fprintln(a.out)
	case askdex.EventAnswer:
		if ev.Answer == nil {
			return
		}
		fmt.Fprintf(a.out, "%s %s\n", heading("Search:"), ev.Answer.Query.Term)
		if ev.Answer.NoEvidence {
			fmt.Fprintln(a.out, faint("  no matching evidence"))
		} else {
			fmt.Fprintln(a.out, indent(ev.Answer.Text))
		}
		fmt.Fprintln(a.out)
	case askdex.EventFinalAnswer:
		if ev.Final == nil {
			return
		}
		fmt.Fprintln(a.out, heading("Answer:"))
		fmt.Fprintln(a.out, ev.Final.Text)
		a.printCitations(ev.Final.Citations)
		for _, w := range ev.Final.Warnings {
			fmt.Fprintln(a.out, color.YellowString("warning: %s", w))
		}
		if ev.Final.ServedBy != "" {
			fmt.Fprintln(a.out, faint("served by "+ev.Final.ServedBy))
		}
	case askdex.EventError:
		// Err() reports the error after the loop.
		fmt.Fprintf(a.out, "%s during %s\n", failed("Failed"), ev.Stage)
	}
}

func (a *app) printCitations(cs []askdex.Citation) {
	if len(cs) == 0 {
		return
	}
	fmt.Fprintln(a.out)
	for _, c := range cs {
		refs := make([]string, 0, len(c.Refs))
		for _, r := range c.Refs {
			refs = append(refs, r.SourceID+"#"+r.ChunkID)
		}
		fmt.Fprintf(a.out, "  [%d] %s\n", c.Number, strings.Join(refs, ", "))
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n  ")
}

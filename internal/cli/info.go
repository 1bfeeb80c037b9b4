package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

func (a *app) modelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models and their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			models, err := c.Models(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROVIDER\tNAME\tMODALITY\tFALLBACK\tHEALTH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.Provider, m.Name, m.Modality, dash(m.Fallback), healthColor(string(m.Health)))
			}
			return tw.Flush()
		},
	}
}

func (a *app) usageCommand() *cobra.Command {
	var (
		period   string
		provider string
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and budgets per provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			reports, err := c.Usage(ctx, askdex.UsagePeriod(period), provider)
			if err != nil {
				return err
			}
			sort.Slice(reports, func(i, j int) bool { return reports[i].Provider < reports[j].Provider })

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tREQUESTS\tTOKENS\tLIMIT\tREMAINING")
			for _, r := range reports {
				limit, remaining := "unlimited", "-"
				if r.Budget.TokensLimit > 0 {
					limit = fmt.Sprint(r.Budget.TokensLimit)
					remaining = fmt.Sprint(r.Budget.TokensRemaining)
					if r.Budget.IsExhausted {
						remaining = color.RedString("exhausted")
					}
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", r.Provider, r.Usage.Requests, r.Usage.Tokens, limit, remaining)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&period, "period", "month", "day, month or total")
	cmd.Flags().StringVar(&provider, "provider", "", "limit to one provider")
	return cmd
}

func (a *app) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			hs, err := c.Health(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(hs.Checks))
			for k := range hs.Checks {
				names = append(names, k)
			}
			sort.Strings(names)

			fmt.Fprintf(a.out, "status: %s\n", healthColor(hs.Status))
			for _, n := range names {
				fmt.Fprintf(a.out, "  %s: %s\n", n, healthColor(hs.Checks[n]))
			}
			if hs.Status != "ok" {
				return fmt.Errorf("server is %s", hs.Status)
			}
			return nil
		},
	}
}

func healthColor(s string) string {
	switch s {
	case "ok", "healthy":
		return color.GreenString("%s", s)
	case "unknown":
		return color.YellowString("%s", s)
	default:
		return color.RedString("%s", s)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

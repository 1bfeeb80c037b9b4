package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

func (a *app) ingestCommand() *cobra.Command {
	var (
		id   string
		kind string
		tags []string
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest files as sources or notes",
		Long: "Ingest reads each file and submits it for chunking and embedding.\n" +
			"Each file gets a stable id derived from its absolute path, so ingesting\n" +
			"the same file again replaces its previous version.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" && len(args) > 1 {
				return fmt.Errorf("--id needs exactly one file, got %d", len(args))
			}
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			for _, path := range args {
				req, err := readSource(path, askdex.ItemKind(kind), tags)
				if err != nil {
					return err
				}
				if id != "" {
					req.ID = id
				}
				acc, err := c.Sources().Ingest(ctx, req)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Fprintf(a.out, "%s %s %s\n", color.GreenString("queued"), acc.SourceID, path)

				if wait {
					src, err := c.Sources().WaitEmbedded(ctx, acc.SourceID, 500*time.Millisecond)
					if err != nil {
						return fmt.Errorf("wait for %s: %w", acc.SourceID, err)
					}
					a.printSourceStatus(&src)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "explicit source id (single file only)")
	cmd.Flags().StringVar(&kind, "kind", string(askdex.ItemSource), "item kind: source or note")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until embedding finishes")
	return cmd
}

func (a *app) sourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Inspect and manage ingested sources",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a source and its embedding status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			src, err := c.Sources().Get(ctx, args[0])
			if err != nil {
				return err
			}
			src.Text = ""
			return a.printJSON(src)
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete sources and their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachSource(cmd, args, "deleted", func(ctx context.Context, c *askdex.Client, id string) error {
				return c.Sources().Delete(ctx, id)
			})
		},
	}

	reembed := &cobra.Command{
		Use:   "reembed <id>...",
		Short: "Retry embedding for chunks still waiting for a vector",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachSource(cmd, args, "queued", func(ctx context.Context, c *askdex.Client, id string) error {
				return c.Sources().Reembed(ctx, id)
			})
		},
	}

	cmd.AddCommand(get, del, reembed)
	return cmd
}

func (a *app) eachSource(
	cmd *cobra.Command,
	ids []string,
	verb string,
	fn func(context.Context, *askdex.Client, string) error,
) error {
	c, err := a.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd)
	defer cancel()

	for _, id := range ids {
		if err := fn(ctx, c, id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Fprintf(a.out, "%s %s\n", color.GreenString(verb), id)
	}
	return nil
}

// readSource builds an ingest request from a file on disk.
func readSource(path string, kind askdex.ItemKind, tags []string) (askdex.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return askdex.IngestRequest{}, fmt.Errorf("read %s: %w", path, err)
	}
	id, err := fileSourceID(path)
	if err != nil {
		return askdex.IngestRequest{}, err
	}
	return askdex.IngestRequest{
		ID:    id,
		Kind:  kind,
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Text:  string(data),
		Tags:  tags,
	}, nil
}

// fileSourceID derives a stable source id from the absolute file path.
func fileSourceID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	sum := sha256.Sum256([]byte(abs))
	return "file-" + hex.EncodeToString(sum[:16]), nil
}

func (a *app) printSourceStatus(src *askdex.Source) {
	status := string(src.Status)
	switch src.Status {
	case askdex.StatusEmbedded:
		status = color.GreenString(status)
	case askdex.StatusPartial:
		status = color.YellowString("%s (%d pending)", status, src.PendingChunks)
	case askdex.StatusFailed:
		status = color.RedString("%s: %s", status, src.Error)
	}
	fmt.Fprintf(a.out, "%s %s %d chunks\n", src.ID, status, src.ChunkCount)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// context bounds a command by the configured timeout.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := a.v.GetDuration(keyTimeout); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

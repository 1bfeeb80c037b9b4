package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

// sourceSink is the part of the SDK the watcher drives.
type sourceSink interface {
	Ingest(ctx context.Context, req askdex.IngestRequest) (askdex.Accepted, error)
	Delete(ctx context.Context, id string) error
}

func (a *app) watchCommand() *cobra.Command {
	var (
		exts     []string
		kind     string
		tags     []string
		initial  bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Keep a directory in sync: ingest changed files, delete removed ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			w, err := newDirWatcher(c.Sources(), watchOptions{
				Extensions: exts,
				Kind:       askdex.ItemKind(kind),
				Tags:       tags,
				Debounce:   debounce,
				Out:        a.out,
			})
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if initial {
				if err := w.SyncAll(ctx, args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "%s %s\n", color.CyanString("watching"), args[0])
			return w.Run(ctx, args[0])
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&exts, "ext", []string{".md", ".txt"}, "file extensions to watch")
	f.StringVar(&kind, "kind", string(askdex.ItemSource), "item kind for ingested files")
	f.StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	f.BoolVar(&initial, "initial", true, "ingest existing files before watching")
	f.DurationVar(&debounce, "debounce", 300*time.Millisecond, "quiet period before a changed file is ingested")
	return cmd
}

type watchOptions struct {
	Extensions []string
	Kind       askdex.ItemKind
	Tags       []string
	Debounce   time.Duration
	Out        io.Writer
}

// dirWatcher mirrors a directory tree into askdex sources. Each file maps to
// the source id fileSourceID derives from its path.
type dirWatcher struct {
	sink    sourceSink
	opts    watchOptions
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func newDirWatcher(sink sourceSink, opts watchOptions) (*dirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".md", ".txt"}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &dirWatcher{
		sink:    sink,
		opts:    opts,
		watcher: w,
		pending: make(map[string]*time.Timer),
	}, nil
}

// SyncAll ingests every watched file under dir.
func (w *dirWatcher) SyncAll(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !w.watched(path) {
			return nil
		}
		w.ingest(ctx, path)
		return ctx.Err()
	})
}

// Run watches dir and its subdirectories until ctx is done.
func (w *dirWatcher) Run(ctx context.Context, dir string) error {
	if err := w.addTree(dir); err != nil {
		return err
	}
	defer w.wg.Wait()
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(w.opts.Out, color.RedString("watch error: %v", err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *dirWatcher) Close() error {
	return w.watcher.Close()
}

func (w *dirWatcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				fmt.Fprintln(w.opts.Out, color.RedString("watch %s: %v", ev.Name, err))
			}
			return
		}
		if w.watched(ev.Name) {
			w.schedule(ctx, ev.Name)
		}
	case ev.Has(fsnotify.Write):
		if w.watched(ev.Name) {
			w.schedule(ctx, ev.Name)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.watched(ev.Name) {
			w.cancel(ev.Name)
			w.remove(ctx, ev.Name)
		}
	}
}

// schedule ingests path once no further writes arrive within the debounce window.
func (w *dirWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.opts.Debounce)
		return
	}

	var t *time.Timer
	w.wg.Add(1)
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.ingest(ctx, path)
		}
	})
	w.pending[path] = t
}

func (w *dirWatcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		delete(w.pending, path)
		w.wg.Done()
	}
}

func (w *dirWatcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

func (w *dirWatcher) ingest(ctx context.Context, path string) {
	req, err := readSource(path, w.opts.Kind, w.opts.Tags)
	if err == nil && strings.TrimSpace(req.Text) == "" {
		return
	}
	if err == nil {
		_, err = w.sink.Ingest(ctx, req)
	}
	if err != nil {
		fmt.Fprintln(w.opts.Out, color.RedString("ingest %s: %v", path, err))
		return
	}
	fmt.Fprintf(w.opts.Out, "%s %s %s\n", color.GreenString("ingested"), req.ID, path)
}

func (w *dirWatcher) remove(ctx context.Context, path string) {
	id, err := fileSourceID(path)
	if err == nil {
		err = w.sink.Delete(ctx, id)
	}
	if err != nil && !errors.Is(err, askdex.ErrNotFound) {
		fmt.Fprintln(w.opts.Out, color.RedString("delete %s: %v", path, err))
		return
	}
	fmt.Fprintf(w.opts.Out, "%s %s %s\n", color.YellowString("deleted"), id, path)
}

func (w *dirWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *dirWatcher) watched(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.opts.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

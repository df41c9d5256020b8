package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ritzau/scene-maint/pkg/config"
	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/maint"
	"github.com/ritzau/scene-maint/pkg/output"
	"github.com/ritzau/scene-maint/pkg/pubsub"
	"github.com/ritzau/scene-maint/pkg/purge"
	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/ritzau/scene-maint/pkg/session"
	"github.com/ritzau/scene-maint/pkg/watcher"
	"github.com/ritzau/scene-maint/pkg/web"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const usage = `Usage: scene-maint [flags] [command]

Commands:
  show     Print the scene tree and definition registry (default)
  delete   Deep delete the selection or --ids
  unique   Deep unique the selection or --ids
  color    Paint the selected faces or --ids with a new random color
  purge    Run the staged purge
  serve    Serve the web UI (default with --web)

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	f := pflag.NewFlagSet("scene-maint", pflag.ContinueOnError)
	f.StringP("scene", "s", "", "Scene document (YAML)")
	f.Bool("web", false, "Start the web UI")
	f.Int("port", 8080, "Port for the web UI")
	f.Bool("watch", false, "Reload the document when it changes on disk")
	f.Bool("write", false, "Save the document after every change")
	f.Bool("beep", true, "Ring the terminal bell when an operation ends")
	f.Bool("json", false, "Log as JSON")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase log verbosity (-v, -vv)")
	f.StringSlice("select", nil, "Select entities by name before running")
	f.Duration("purge.delay", purge.DefaultDelay, "Pause between purge steps")
	ids := f.UintSlice("ids", nil, "Entity ids to operate on instead of the selection")
	f.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		f.PrintDefaults()
	}

	if err := f.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	setupLogging(cfg)

	if cfg.Scene == "" {
		fmt.Fprintln(os.Stderr, "Error: no scene document (use --scene or SCENE_MAINT_SCENE)")
		f.Usage()
		return 2
	}

	command := "show"
	if cfg.WebMode {
		command = "serve"
	}
	if f.NArg() > 0 {
		command = f.Arg(0)
	}

	pub := pubsub.NewSSEPublisher()
	defer pub.Close()
	web.ConfigureTopics(pub)

	sess, err := session.Open(cfg.Scene, session.Options{
		Publisher: pub,
		AutoSave:  cfg.Write,
		Purge:     purge.Options{Delay: cfg.Purge.Delay},
	})
	if err != nil {
		output.PrintError(os.Stderr, "Open", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	hostCtx, stopHost := context.WithCancel(gctx)
	g.Go(func() error { return sess.Run(hostCtx) })

	code := 0
	if len(cfg.Select) > 0 {
		n, err := sess.SelectByName(gctx, cfg.Select)
		if err != nil {
			output.PrintError(os.Stderr, "Select", err)
			code = 1
		} else {
			logging.Info("Selection set", "count", n)
		}
	}

	printer := output.NewStatusPrinter(os.Stdout, cfg.Beep)
	targets := make([]scene.EntityID, len(*ids))
	for i, id := range *ids {
		targets[i] = scene.EntityID(id)
	}

	if code == 0 {
		switch command {
		case "show":
			code = show(gctx, sess, cfg.Scene)
		case "delete":
			res, err := sess.DeepDelete(gctx, targets)
			if err != nil {
				output.PrintError(os.Stderr, "Deep Delete", err)
				code = 1
			} else {
				output.PrintDeleteReport(os.Stdout, res)
			}
		case "unique":
			res, err := sess.DeepUnique(gctx, targets)
			if err != nil {
				output.PrintError(os.Stderr, "Deep Unique", err)
				code = 1
			} else {
				output.PrintUniqueReport(os.Stdout, res)
			}
		case "color":
			res, err := sess.ApplyRandomColor(gctx, targets)
			if err != nil {
				output.PrintError(os.Stderr, maint.ColorLabel, err)
				code = 1
			} else {
				output.PrintColorReport(os.Stdout, res)
			}
		case "purge":
			code = runPurge(gctx, sess, pub, printer)
		case "serve":
			g.Go(func() error { return serve(gctx, cfg, sess, pub, printer) })
			<-gctx.Done()
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
			f.Usage()
			code = 2
		}
	}

	stopHost()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		output.PrintError(os.Stderr, command, err)
		code = 1
	}
	return code
}

func setupLogging(cfg *config.Config) {
	level := logging.LevelFromVerbosity(cfg.VerboseCnt)
	switch strings.ToLower(cfg.Verbosity) {
	case "":
	case "trace":
		level = logging.LevelTrace
	default:
		var l slog.Level
		if err := l.UnmarshalText([]byte(cfg.Verbosity)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: unknown verbosity %q\n", cfg.Verbosity)
		} else {
			level = l
		}
	}
	if cfg.JSON {
		logging.SetJSONOutput(level)
	} else {
		logging.SetLevel(level)
	}
}

func show(ctx context.Context, sess *session.Session, path string) int {
	sum, err := sess.Summary(ctx)
	if err != nil {
		output.PrintError(os.Stderr, "Show", err)
		return 1
	}
	output.PrintSceneSummary(os.Stdout, path, sum)

	err = sess.Inspect(ctx, func(s *scene.Scene) error {
		output.PrintSceneTree(os.Stdout, s)
		return nil
	})
	if err != nil {
		output.PrintError(os.Stderr, "Show", err)
		return 1
	}
	fmt.Println()

	defs, err := sess.Definitions(ctx)
	if err != nil {
		output.PrintError(os.Stderr, "Show", err)
		return 1
	}
	output.PrintDefinitions(os.Stdout, defs)
	return 0
}

func runPurge(ctx context.Context, sess *session.Session, pub pubsub.Publisher, printer *output.StatusPrinter) int {
	// Subscribe first so no status line is missed
	sub, err := pub.Subscribe(ctx, pubsub.TopicStatus)
	if err != nil {
		output.PrintError(os.Stderr, "Purge", err)
		return 1
	}
	defer sub.Close()

	if _, err := sess.Purge(ctx); err != nil {
		output.PrintError(os.Stderr, "Purge", err)
		return 1
	}
	if err := printer.Run(ctx, sub, "purge", true); err != nil {
		output.PrintError(os.Stderr, "Purge", err)
		return 1
	}

	st := sess.PurgeState()
	output.PrintPurgeState(os.Stdout, st)
	if st.Phase != purge.PhaseCompleted {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, sess *session.Session, pub pubsub.Publisher, printer *output.StatusPrinter) error {
	g, gctx := errgroup.WithContext(ctx)

	sub, err := pub.Subscribe(gctx, pubsub.TopicStatus)
	if err != nil {
		return err
	}
	g.Go(func() error {
		defer sub.Close()
		return printer.Run(gctx, sub, "", false)
	})

	if cfg.Watch {
		fw, err := watcher.NewFileWatcher(cfg.Scene)
		if err != nil {
			return err
		}
		if err := fw.Start(gctx); err != nil {
			return err
		}
		d := watcher.NewDebouncer(fw.Events(), 200*time.Millisecond, 2*time.Second, nil)
		d.Start(gctx)
		g.Go(func() error {
			watcher.Follow(gctx, d.Output(), sess)
			return nil
		})
	}

	srv := web.NewServer(gctx, sess, pub)
	g.Go(func() error { return srv.Run(gctx, fmt.Sprintf(":%d", cfg.Port)) })

	return g.Wait()
}

// pinwatch はPinShare APIをポーリングし、フィード・お気に入り・コメント・本文の変化を表示するCLI。
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hitoshi/pinshare/internal/client"
	"github.com/hitoshi/pinshare/internal/logger"
	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/poller"
)

func main() {
	app := newApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pinwatch: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "pinwatch",
		Usage:  "watch a PinShare server by polling",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "base URL of the PinShare server",
				Value:   "http://localhost:8080",
				EnvVars: []string{"PINSHARE_SERVER"},
			},
			&cli.StringFlag{
				Name:    "username",
				Usage:   "log in as this user before polling",
				EnvVars: []string{"PINSHARE_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "password for --username",
				EnvVars: []string{"PINSHARE_PASSWORD"},
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "polling interval",
				Value:   poller.DefaultInterval,
				EnvVars: []string{"PINSHARE_POLL_INTERVAL"},
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "fetch a single snapshot and exit",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
			},
		},
		Before: func(cctx *cli.Context) error {
			logger.SetupDefault(os.Stderr, logger.ParseLevel(cctx.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "feed",
				Usage: "watch the pin feed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "search", Usage: "filter by title or tag"},
					&cli.StringFlag{Name: "sort", Usage: sortUsage()},
				},
				Action: runFeed,
			},
			{
				Name:   "favorites",
				Usage:  "watch the logged-in user's favorites",
				Action: runFavorites,
			},
			{
				Name:      "comments",
				Usage:     "watch the comments of a pin",
				ArgsUsage: "<pin-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "say", Usage: "post a comment before watching"},
				},
				Action: runComments,
			},
			{
				Name:      "raw",
				Usage:     "watch the raw content of a pin",
				ArgsUsage: "<pin-id>",
				Action:    runRaw,
			},
		},
	}
}

// newClient はフラグからクライアントを生成し、ユーザー名が指定されていればログインする。
func newClient(cctx *cli.Context, requireLogin bool) (*client.Client, error) {
	c, err := client.New(cctx.String("server"), nil, slog.Default())
	if err != nil {
		return nil, err
	}
	username := cctx.String("username")
	if username == "" {
		if requireLogin {
			return nil, fmt.Errorf("--username is required for %s", cctx.Command.Name)
		}
		return c, nil
	}
	if _, err := c.Login(cctx.Context, username, cctx.String("password")); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return c, nil
}

func runFeed(cctx *cli.Context) error {
	c, err := newClient(cctx, false)
	if err != nil {
		return err
	}
	search, sort := cctx.String("search"), cctx.String("sort")
	if _, err := model.ParsePinSort(sort); err != nil {
		return fmt.Errorf("invalid --sort %q: want %s", sort, sortUsage())
	}
	src := poller.SourceFunc[[]client.Pin](func(ctx context.Context) ([]client.Pin, error) {
		return c.Pins(ctx, search, sort)
	})
	return watch(cctx, src, renderPins)
}

// sortUsage はサーバーが受け付ける並び順を列挙する。
func sortUsage() string {
	names := make([]string, len(model.PinSorts))
	for i, s := range model.PinSorts {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func runFavorites(cctx *cli.Context) error {
	c, err := newClient(cctx, true)
	if err != nil {
		return err
	}
	src := poller.SourceFunc[[]client.Pin](c.Favorites)
	return watch(cctx, src, renderPins)
}

func runComments(cctx *cli.Context) error {
	pinID, err := pinIDArg(cctx)
	if err != nil {
		return err
	}
	say := strings.TrimSpace(cctx.String("say"))
	c, err := newClient(cctx, say != "")
	if err != nil {
		return err
	}
	src := poller.SourceFunc[[]client.Comment](func(ctx context.Context) ([]client.Comment, error) {
		return c.Comments(ctx, pinID)
	})

	var setup func(p *poller.Poller[[]client.Comment]) error
	if say != "" {
		setup = func(p *poller.Poller[[]client.Comment]) error {
			posted, err := c.CreateComment(cctx.Context, pinID, say)
			if err != nil {
				return fmt.Errorf("failed to post comment: %w", err)
			}
			p.Apply(appendComment(*posted))
			return nil
		}
	}
	return watchWith(cctx, src, renderComments, setup)
}

func runRaw(cctx *cli.Context) error {
	pinID, err := pinIDArg(cctx)
	if err != nil {
		return err
	}
	c, err := newClient(cctx, false)
	if err != nil {
		return err
	}
	src := poller.SourceFunc[string](func(ctx context.Context) (string, error) {
		return c.Raw(ctx, pinID)
	})
	return watch(cctx, src, func(w io.Writer, s string) {
		fmt.Fprintln(w, s)
	})
}

func pinIDArg(cctx *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(cctx.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("usage: pinwatch %s <pin-id>", cctx.Command.Name)
	}
	return id, nil
}

func watch[T any](cctx *cli.Context, src poller.Source[T], render func(io.Writer, T)) error {
	return watchWith(cctx, src, render, nil)
}

// watchWith は変化のたびにスナップショットを表示しながら、SIGINTまで(--onceなら1回)ポーリングする。
func watchWith[T any](cctx *cli.Context, src poller.Source[T], render func(io.Writer, T), setup func(*poller.Poller[T]) error) error {
	out := cctx.App.Writer
	p := poller.New(src, poller.Config[T]{
		Interval: cctx.Duration("interval"),
		OnChange: func(v T) {
			fmt.Fprintf(out, "--- %s ---\n", time.Now().Format(time.TimeOnly))
			render(out, v)
		},
		Logger: slog.Default(),
	})

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if setup != nil {
		if err := setup(p); err != nil {
			return err
		}
	}

	if cctx.Bool("once") {
		if p.RunOnce(ctx) == poller.StateFailed {
			return p.LastError()
		}
		return nil
	}
	p.Start(ctx)
	return nil
}

// appendComment は投稿したコメントを楽観的に表示し、取得結果に現れた時点で確定とする。
func appendComment(c client.Comment) poller.Mutation[[]client.Comment] {
	return poller.Mutation[[]client.Comment]{
		Apply: func(cs []client.Comment) []client.Comment {
			for _, existing := range cs {
				if existing.ID == c.ID {
					return cs
				}
			}
			out := make([]client.Comment, len(cs), len(cs)+1)
			copy(out, cs)
			return append(out, c)
		},
		Confirmed: func(cs []client.Comment) bool {
			for _, existing := range cs {
				if existing.ID == c.ID {
					return true
				}
			}
			return false
		},
	}
}

func renderPins(w io.Writer, pins []client.Pin) {
	if len(pins) == 0 {
		fmt.Fprintln(w, "(no pins)")
		return
	}
	for _, p := range pins {
		mark := " "
		if p.IsFavorite {
			mark = "*"
		}
		author := p.Author
		if p.AuthorVerified {
			author += " ✓"
		}
		fmt.Fprintf(w, "%s #%d %s by %s views=%d", mark, p.ID, p.Title, author, p.Views)
		if len(p.Tags) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(p.Tags, ", "))
		}
		fmt.Fprintln(w)
	}
}

func renderComments(w io.Writer, comments []client.Comment) {
	if len(comments) == 0 {
		fmt.Fprintln(w, "(no comments)")
		return
	}
	for _, c := range comments {
		fmt.Fprintf(w, "#%d %s: %s\n", c.ID, c.Author, c.Content)
	}
}

// Command liveroom is a terminal client for a team's chat room and
// collaborative document.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"liveroom/internal/app"
	"liveroom/internal/channel"
	"liveroom/internal/collab"
	"liveroom/internal/config"
	"liveroom/pkg/types"
)

const shutdownTimeout = 30 * time.Second

type cliOptions struct {
	userID     string
	name       string
	teamID     string
	sessionID  string
	projectID  string
	configPath string
	doc        bool
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "liveroom:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (cliOptions, error) {
	var o cliOptions
	fsFlags := flag.NewFlagSet("liveroom", flag.ContinueOnError)
	fsFlags.StringVar(&o.userID, "user", "", "sender id")
	fsFlags.StringVar(&o.name, "name", "", "display name")
	fsFlags.StringVar(&o.teamID, "team", "", "team id")
	fsFlags.StringVar(&o.sessionID, "session", "", "session id")
	fsFlags.StringVar(&o.projectID, "project", "", "project id; with -doc the document is saved as an artifact on exit")
	fsFlags.StringVar(&o.configPath, "config", os.Getenv("LIVEROOM_CONFIG_FILE"), "JSON config file")
	fsFlags.BoolVar(&o.doc, "doc", false, "mount the team's collaborative document")
	if err := fsFlags.Parse(args); err != nil {
		return o, err
	}

	var missing []string
	for flagName, v := range map[string]string{"user": o.userID, "name": o.name, "team": o.teamID, "session": o.sessionID} {
		if v == "" {
			missing = append(missing, "-"+flagName)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return o, fmt.Errorf("missing required flags: %s", strings.Join(missing, " "))
	}
	return o, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// STEP 1: .env, then file > env > defaults
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.Log.Level, cfg.Log.Format)

	// STEP 2: application services
	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return err
	}

	room := types.TeamRoomID(opts.teamID)
	sub, err := application.Hub().SubscribeToRoom(ctx, room)
	if err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("subscribe %s: %w", room, err)
	}

	var mount *collab.Mount
	if opts.doc {
		mount = application.MountDocument(ctx, opts.sessionID, opts.teamID, opts.name)
	}

	// STEP 3: workers until a signal or end of input
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(application),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics.listen", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// SIGCONT: the process was resumed, treat it as coming back to the foreground.
	resumed := make(chan os.Signal, 1)
	signal.Notify(resumed, syscall.SIGCONT)
	defer signal.Stop(resumed)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-resumed:
				application.NotifyEnvironment(channel.Visible)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg, ok := <-sub.Events():
				if !ok {
					return nil
				}
				fmt.Fprintln(stdout, formatMessage(msg))
			}
		}
	})

	// The scanner cannot be interrupted; it feeds lines through a channel.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					stop()
					return nil
				}
				handleLine(line, opts, application, mount, stdout, log)
			}
		}
	})

	runErr := g.Wait()

	// STEP 4: graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sub.Unsubscribe()
	if mount != nil {
		if opts.projectID != "" {
			res := application.SaveDocument(shutdownCtx, mount, opts.projectID, opts.sessionID, opts.teamID, "")
			if !res.Success {
				log.Warn("artifact.save.failed", "error", res.Error)
			}
		}
		mount.Unmount()
	}
	if err := application.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	return runErr
}

// handleLine sends a chat message, or runs a document command when the line
// starts with a slash.
func handleLine(line string, opts cliOptions, a *app.Application, mount *collab.Mount, stdout io.Writer, log *slog.Logger) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	switch cmd, arg := splitCommand(line); cmd {
	case "":
		_, err := a.Hub().SendMessage(types.TeamRoomID(opts.teamID), types.Message{
			SenderID:   opts.userID,
			SenderName: opts.name,
			SenderType: types.SenderTypeUser,
			Content:    line,
		})
		if err != nil {
			log.Warn("chat.send.failed", "error", err)
		}
	case "doc":
		if mount == nil {
			fmt.Fprintln(stdout, "no document mounted (use -doc)")
			return
		}
		fmt.Fprintln(stdout, mount.Session().Document.Text())
	case "para":
		if mount == nil {
			fmt.Fprintln(stdout, "no document mounted (use -doc)")
			return
		}
		if err := mount.Session().Document.InsertParagraph(arg, nil); err != nil {
			log.Warn("doc.insert.failed", "error", err)
		}
	case "who":
		if mount == nil {
			fmt.Fprintln(stdout, "no document mounted (use -doc)")
			return
		}
		for _, name := range presenceNames(mount.Session().Provider.Awareness().States()) {
			fmt.Fprintln(stdout, name)
		}
	default:
		fmt.Fprintf(stdout, "unknown command /%s\n", cmd)
	}
}

// splitCommand returns ("", "") for plain chat text.
func splitCommand(line string) (cmd, arg string) {
	if !strings.HasPrefix(line, "/") {
		return "", ""
	}
	cmd, arg, _ = strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return cmd, strings.TrimSpace(arg)
}

func formatMessage(msg types.Message) string {
	name := msg.SenderName
	if msg.SenderType == types.SenderTypeAI {
		name += " (ai)"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Local().Format("15:04:05"), name, msg.Content)
}

// presenceNames lists the user names found in awareness states.
func presenceNames(states map[string]map[string]any) []string {
	var names []string
	for _, state := range states {
		switch u := state["user"].(type) {
		case collab.User:
			names = append(names, u.Name)
		case map[string]any:
			if n, ok := u["name"].(string); ok {
				names = append(names, n)
			}
		}
	}
	slices.Sort(names)
	return names
}

func metricsMux(a *app.Application) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Gatherer(), promhttp.HandlerOpts{}))
	return mux
}

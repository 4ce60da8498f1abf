package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/GoCodeAlone/tally/analytics"
	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/client"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/view"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/tracker"
)

// errReported marks an error whose message has already been shown as a
// notice.
var errReported = errors.New("reported")

// snapshotTimeout bounds how long a command waits for the first snapshot.
const snapshotTimeout = 10 * time.Second

// sessionBackend is a backend whose session can be saved and resumed
// across invocations.
type sessionBackend interface {
	backend.Backend
	Resume(ctx context.Context, token string) (*auth.Identity, error)
	Token() string
}

type cli struct {
	backend  sessionBackend
	tracker  *tracker.Tracker
	logger   *slog.Logger
	token    string
	session  sessionFile
	failures chan tracker.Notice
	stdin    *bufio.Reader
	out      io.Writer
}

func newCLI(b sessionBackend, cfg *config.Config, logger *slog.Logger, token string, local bool) *cli {
	c := &cli{
		backend:  b,
		logger:   logger,
		token:    token,
		session:  defaultSessionFile(local),
		failures: make(chan tracker.Notice, 8),
		stdin:    bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}
	c.tracker = tracker.New(b,
		tracker.WithLogger(logger),
		tracker.WithMutationTimeout(cfg.Client.MutationTimeout),
		tracker.WithNotifier(tracker.NotifierFunc(c.notice)),
	)
	c.tracker.Start()
	return c
}

func (c *cli) close() {
	c.tracker.Close()
}

func (c *cli) notice(n tracker.Notice) {
	view.Notice(os.Stderr, n)
	if n.Success {
		return
	}
	select {
	case c.failures <- n:
	default:
	}
}

// reported hides errors the notifier already printed.
func reported(err error) error {
	var be *tracker.BackendError
	if errors.As(err, &be) {
		switch be.Op {
		case "create", "toggle", "rename", "delete", "signout":
			return errReported
		}
	}
	return err
}

// resume restores the saved session and waits for the first snapshot.
func (c *cli) resume(ctx context.Context) (tracker.State, error) {
	token := c.token
	if token == "" {
		saved, err := c.session.Load()
		if err != nil {
			return tracker.State{}, err
		}
		token = saved
	}
	if token == "" {
		return tracker.State{}, errors.New("not signed in; run: tally login <email>")
	}
	if _, err := c.backend.Resume(ctx, token); err != nil {
		if errors.Is(err, backend.ErrUnauthenticated) {
			_ = c.session.Remove()
			return tracker.State{}, errors.New("session expired; run: tally login <email>")
		}
		return tracker.State{}, err
	}
	return c.waitSnapshot(ctx)
}

// waitSnapshot blocks until the tracker holds at least one snapshot for the
// signed-in user.
func (c *cli) waitSnapshot(ctx context.Context) (tracker.State, error) {
	ready := make(chan tracker.State, 1)
	cancel := c.tracker.Observe(func(st tracker.State) {
		if st.User != nil && st.Version > 0 {
			select {
			case ready <- st:
			default:
			}
		}
	})
	defer cancel()

	timer := time.NewTimer(snapshotTimeout)
	defer timer.Stop()
	select {
	case st := <-ready:
		return st, nil
	case n := <-c.failures:
		return tracker.State{}, fmt.Errorf("%s: %w", n.Message, errReported)
	case <-timer.C:
		return tracker.State{}, errors.New("timed out waiting for tasks")
	case <-ctx.Done():
		return tracker.State{}, ctx.Err()
	}
}

// --- account ---

func (c *cli) cmdSignUp(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: tally signup <name> <email> [password]")
	}
	name, email := args[0], args[1]
	password, err := c.password(args[2:])
	if err != nil {
		return err
	}
	return c.tracker.SignUp(ctx, name, email, password)
}

func (c *cli) cmdLogin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: tally login <email> [password]")
	}
	password, err := c.password(args[1:])
	if err != nil {
		return err
	}
	if err := c.tracker.SignIn(ctx, args[0], password); err != nil {
		return err
	}
	if err := c.session.Save(c.backend.Token()); err != nil {
		c.logger.Warn("session not saved", "path", c.session.Path, "error", err)
	}
	st, err := c.waitSnapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Signed in as %s\n", st.DisplayName)
	return nil
}

func (c *cli) cmdLogout(ctx context.Context) error {
	if _, err := c.resume(ctx); err != nil {
		return err
	}
	err := c.tracker.SignOut(ctx)
	if rmErr := c.session.Remove(); rmErr != nil {
		c.logger.Warn("session not removed", "path", c.session.Path, "error", rmErr)
	}
	return reported(err)
}

func (c *cli) cmdWhoami(ctx context.Context) error {
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s <%s>\nuid: %s\ntasks: %d\n", st.DisplayName, st.User.Email, st.User.UID, len(st.Tasks))
	return nil
}

// password takes the password from args or prompts for it.
func (c *cli) password(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := c.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// --- tasks ---

func (c *cli) cmdAdd(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: tally add <category> <text>")
	}
	category := task.Category(strings.ToLower(args[0]))
	if !category.Valid() {
		return fmt.Errorf("unknown category %q (want one of %s)", args[0], categoryNames())
	}
	if _, err := c.resume(ctx); err != nil {
		return err
	}
	err := c.tracker.Create(ctx, strings.Join(args[1:], " "), category)
	var ve *tracker.ValidationError
	if errors.As(err, &ve) {
		return errReported
	}
	return reported(err)
}

func (c *cli) cmdToggle(ctx context.Context, args []string, completed bool) error {
	if len(args) != 1 {
		if completed {
			return errors.New("usage: tally done <id>")
		}
		return errors.New("usage: tally undo <id>")
	}
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	id, err := resolveID(st.Tasks, args[0])
	if err != nil {
		return err
	}
	return reported(c.tracker.ToggleComplete(ctx, id, completed))
}

func (c *cli) cmdRename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: tally rename <id> <text>")
	}
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	id, err := resolveID(st.Tasks, args[0])
	if err != nil {
		return err
	}
	return reported(c.tracker.Rename(ctx, id, strings.Join(args[1:], " ")))
}

func (c *cli) cmdRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	yes := fs.Bool("y", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: tally rm [-y] <id>")
	}
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	id, err := resolveID(st.Tasks, fs.Arg(0))
	if err != nil {
		return err
	}
	if !*yes {
		t := findTask(st.Tasks, id)
		fmt.Fprintf(os.Stderr, "Are you sure you want to delete %q? [y/N] ", t.Text)
		answer, _ := c.stdin.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return nil
		}
	}
	return reported(c.tracker.Delete(ctx, id))
}

func (c *cli) cmdList(ctx context.Context, args []string) error {
	pred, err := parseFilter(args)
	if err != nil {
		return err
	}
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	return view.TaskTable(c.out, tracker.Filter(st.Tasks, pred))
}

func (c *cli) cmdDashboard(ctx context.Context) error {
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	return view.Dashboard(c.out, st.DisplayName, analytics.Build(st.Tasks, time.Now()))
}

func (c *cli) cmdStats(ctx context.Context) error {
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	return view.Analytics(c.out, analytics.Build(st.Tasks, time.Now()))
}

// cmdWatch redraws the filtered list after every snapshot until interrupted
// or the subscription fails.
func (c *cli) cmdWatch(ctx context.Context, args []string) error {
	pred, err := parseFilter(args)
	if err != nil {
		return err
	}
	if _, err := c.resume(ctx); err != nil {
		return err
	}

	var last uint64
	cancel := c.tracker.Observe(func(st tracker.State) {
		if st.User == nil || st.Version == last {
			return
		}
		last = st.Version
		view.Title(c.out, fmt.Sprintf("%s (%s) at %s", st.DisplayName, pred, time.Now().Format("15:04:05")))
		if err := view.TaskTable(c.out, tracker.Filter(st.Tasks, pred)); err != nil {
			c.logger.Warn("render failed", "error", err)
		}
	})
	defer cancel()

	select {
	case <-ctx.Done():
		return nil
	case n := <-c.failures:
		return fmt.Errorf("%s: %w", n.Message, errReported)
	}
}

// --- server ---

func (c *cli) cmdStatus(ctx context.Context) error {
	remote, ok := c.backend.(*client.Client)
	if !ok {
		return errors.New("status is only available against a server")
	}
	st, err := remote.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "status: %s\nversion: %s\n", st["status"], st["version"])
	return nil
}

// --- helpers ---

func parseFilter(args []string) (tracker.Predicate, error) {
	if len(args) > 1 {
		return tracker.All, errors.New("expected at most one filter")
	}
	name := ""
	if len(args) == 1 {
		name = strings.ToLower(args[0])
	}
	pred := tracker.ParsePredicate(name)
	switch name {
	case "", "all", "active", "completed":
	default:
		if !task.Category(name).Valid() {
			return tracker.All, fmt.Errorf("unknown filter %q (want all, active, completed or one of %s)", args[0], categoryNames())
		}
	}
	return pred, nil
}

// resolveID finds the task whose ID equals or starts with prefix.
func resolveID(tasks []task.Task, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("task id is required")
	}
	var matches []string
	for _, t := range tasks {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no task matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d tasks; use a longer prefix", prefix, len(matches))
	}
}

func findTask(tasks []task.Task, id string) task.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return task.Task{ID: id}
}

func categoryNames() string {
	names := make([]string, len(task.Categories))
	for i, c := range task.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

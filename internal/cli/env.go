package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/utafrali/campusfeed/internal/app"
	"github.com/utafrali/campusfeed/internal/config"
	"github.com/utafrali/campusfeed/internal/session"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
)

// Env carries what commands share: streams, configuration and the lazily
// built client.
type Env struct {
	Out io.Writer
	Err io.Writer

	cfg    *config.Config
	logger *slog.Logger
	in     *bufio.Reader
	client *app.Client
}

// NewEnv creates a command environment.
func NewEnv(cfg *config.Config, logger *slog.Logger, in io.Reader, out, errOut io.Writer) *Env {
	return &Env{
		Out:    out,
		Err:    errOut,
		cfg:    cfg,
		logger: logger,
		in:     bufio.NewReader(in),
	}
}

// Client builds the client on first use and resolves the stored session.
func (e *Env) Client(ctx context.Context) (*app.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	nav := session.NavigatorFunc(func() {
		fmt.Fprintln(e.Err, session.MsgLoggedOut)
	})
	c, err := app.NewClient(ctx, e.cfg, e.logger, nav)
	if err != nil {
		return nil, err
	}
	c.Session.Init(ctx)
	e.client = c
	return c, nil
}

// Close releases the client if one was built.
func (e *Env) Close(ctx context.Context) {
	if e.client != nil {
		e.client.Close(ctx)
	}
}

// readLine prompts on Err and reads one line from the input stream.
func (e *Env) readLine(prompt string) (string, error) {
	fmt.Fprint(e.Err, prompt)
	line, err := e.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// displayError carries the text shown to the user alongside the cause.
type displayError struct {
	msg string
	err error
}

func (d *displayError) Error() string { return d.msg }
func (d *displayError) Unwrap() error { return d.err }

// fail turns err into the message the user sees, preferring what the
// backend said over fallback.
func fail(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var d *displayError
	if errors.As(err, &d) {
		return err
	}
	return &displayError{msg: apperrors.UserMessage(err, fallback), err: err}
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive number, got %q", ErrUsage, what, arg)
	}
	return id, nil
}

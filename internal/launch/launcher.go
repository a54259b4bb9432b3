package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/svcboot/internal/config"
	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/port"
)

// readHeaderTimeout bounds how long the in-process server waits for
// request headers.
const readHeaderTimeout = 10 * time.Second

// Options configures a Launcher.
type Options struct {
	// Recipe supplies the entrypoint, the optional server command and
	// the module extensions.
	Recipe *model.Recipe

	// WorkDir is the directory holding the application source.
	WorkDir string

	// Env is the launch environment, read once at process start.
	Env config.Env

	// Host is the bind address. Empty means model.DefaultHost.
	Host string

	// Registry resolves in-process applications. Nil uses NewRegistry.
	Registry *Registry

	Logger zerolog.Logger

	// Stdin, Stdout and Stderr are inherited by the server command.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Ready, if set, is called once the service accepts connections (in
	// process) or the server command has started.
	Ready func(addr string)
}

// Launcher runs the launch phase.
type Launcher struct {
	opts Options
	host string
}

// New creates a Launcher from opts.
func New(opts Options) *Launcher {
	host := opts.Host
	if host == "" {
		host = model.DefaultHost
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	return &Launcher{opts: opts, host: host}
}

// Addr returns the "host:port" the service binds to.
func (l *Launcher) Addr() string {
	return net.JoinHostPort(l.host, strconv.Itoa(l.opts.Env.Port))
}

// Run serves the entrypoint in the foreground until ctx is cancelled or
// the server process exits. It returns the exit status the process
// should end with.
//
// Failures before the service starts (unknown entrypoint, invalid or
// occupied port) are returned as *model.CLIError values and nothing is
// left running.
func (l *Launcher) Run(ctx context.Context) (int, error) {
	if l.opts.Recipe == nil {
		return int(model.ExitGeneralError), fmt.Errorf("launcher has no recipe")
	}

	ep, err := model.ParseEntrypoint(l.opts.Recipe.Entrypoint)
	if err != nil {
		return int(model.ExitEntrypointNotFound), model.WrapCLIError(model.ExitEntrypointNotFound, "invalid entrypoint", err)
	}

	if len(l.opts.Recipe.Command) == 0 {
		if err := l.serveInProcess(ctx, ep); err != nil {
			return exitCodeOf(err), err
		}
		return int(model.ExitSuccess), nil
	}
	return l.runCommand(ctx, ep)
}

// serveInProcess binds the port once and serves the registered
// application until ctx is cancelled, then drains in-flight requests
// within the configured shutdown timeout.
func (l *Launcher) serveInProcess(ctx context.Context, ep model.Entrypoint) error {
	factory, err := l.opts.Registry.Lookup(ep)
	if err != nil {
		return err
	}

	ln, err := port.Bind(l.host, l.opts.Env.Port)
	if err != nil {
		return err
	}

	logger := l.opts.Logger.With().Str("entrypoint", ep.String()).Logger()
	srv := &http.Server{
		Handler:           factory(logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	addr := ln.Addr().String()
	logger.Info().Str("addr", addr).Bool("portFromEnv", l.opts.Env.PortFromEnv).Msg("serving")
	if l.opts.Ready != nil {
		l.opts.Ready(addr)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)

	case <-ctx.Done():
		timeout := l.opts.Env.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		logger.Info().Dur("timeout", timeout).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		<-errCh
		return nil
	}
}

// runCommand starts the recipe's server command as the single foreground
// child and waits for it. SIGINT and SIGTERM received by svcboot are
// forwarded; cancelling ctx sends SIGTERM. The child's exit status is
// returned as the launch exit status.
func (l *Launcher) runCommand(ctx context.Context, ep model.Entrypoint) (int, error) {
	recipe := l.opts.Recipe

	if len(recipe.ModuleExts) > 0 {
		modulePath, err := ResolveModule(l.opts.WorkDir, ep, recipe.ModuleExts)
		if err != nil {
			return int(model.ExitEntrypointNotFound), err
		}
		l.opts.Logger.Debug().Str("module", modulePath).Msg("entrypoint module found")
	}

	// The child binds the port itself. Probing first turns an occupied
	// port into svcboot's own fatal error instead of a server-specific one.
	if err := port.NewScanner(l.host).Check(l.opts.Env.Port); err != nil {
		return int(model.ExitPortUnavailable), err
	}

	argv := model.ExpandPlaceholders(recipe.Command, map[string]string{
		model.PlaceholderEntrypoint: ep.String(),
		model.PlaceholderHost:       l.host,
		model.PlaceholderPort:       strconv.Itoa(l.opts.Env.Port),
	})

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.opts.WorkDir
	cmd.Env = append(os.Environ(), config.EnvPort+"="+strconv.Itoa(l.opts.Env.Port))
	cmd.Stdin = l.opts.Stdin
	cmd.Stdout = l.opts.Stdout
	cmd.Stderr = l.opts.Stderr

	// Register before Start so a signal arriving during startup is
	// forwarded rather than killing svcboot and orphaning the child.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return int(model.ExitGeneralError), model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to start server command %q", argv[0]), err)
	}

	l.opts.Logger.Info().
		Strs("argv", argv).
		Int("pid", cmd.Process.Pid).
		Str("addr", l.Addr()).
		Msg("server started")
	if l.opts.Ready != nil {
		l.opts.Ready(l.Addr())
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	done := ctx.Done()
	forwarded := false
	for {
		select {
		case sig := <-sigCh:
			l.opts.Logger.Info().Str("signal", sig.String()).Msg("forwarding signal to server")
			_ = cmd.Process.Signal(sig)
			forwarded = true

		case <-done:
			done = nil
			if !forwarded {
				_ = cmd.Process.Signal(syscall.SIGTERM)
			}

		case err := <-waitCh:
			code := childExitCode(err)
			l.opts.Logger.Info().Int("exitCode", code).Msg("server exited")
			if code < 0 {
				return int(model.ExitGeneralError), fmt.Errorf("server command failed: %w", err)
			}
			return code, nil
		}
	}
}

// childExitCode maps the result of cmd.Wait to a process exit status.
// A child killed by a signal yields 128+signal, the shell convention.
// -1 means the status could not be determined.
func childExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return -1
}

// exitCodeOf returns the exit code carried by err, or the general error
// code.
func exitCodeOf(err error) int {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return int(cliErr.Code)
	}
	return int(model.ExitGeneralError)
}

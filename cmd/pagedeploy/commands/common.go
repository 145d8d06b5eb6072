package commands

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pagedeploy/internal/observability"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
	// Out receives command output meant for the user (listings, init messages).
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (optional; environment variables always apply)" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Clone, build and publish one deployment"`
	Proxy   ProxyCmd   `cmd:"" help:"Serve published projects through the tenant routing proxy"`
	Project ProjectCmd `cmd:"" help:"Manage the project registry used by the proxy"`
	Logs    LogsCmd    `cmd:"" help:"Print build log events recorded by the sqlite sink"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(c.Verbose)})
	logger := slog.New(observability.NewContextHandler(handler))
	slog.SetDefault(logger)
	g.Logger = logger
	return nil
}

// parseLogLevel honours -v first, then PAGEDEPLOY_LOG_LEVEL.
func parseLogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("PAGEDEPLOY_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/resolver"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

// Env carries what every command needs besides its own options.
type Env struct {
	Config    Config
	Logger    *log.Logger
	Localizer *i18n.Localizer
	Stdout    io.Writer
	Stderr    io.Writer
}

func (e *Env) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Env) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

func (e *Env) logger() *log.Logger {
	if e.Logger == nil {
		return log.Default()
	}
	return e.Logger
}

// cancelled reports whether err ends a batch because ctx is done. Any
// other per-package error is logged and the package skipped.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Env) localize(messageID, fallback string, data map[string]any) string {
	if e.Localizer == nil {
		return fallback
	}

	msg, err := e.Localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID, TemplateData: data})
	if err == nil && msg != "" {
		return msg
	}

	return fallback
}

func (e *Env) progress(enabled bool) utils.ProgressFunc {
	if !enabled {
		return nil
	}
	return utils.TerminalProgress(e.stderr())
}

// NewLogger returns a stderr logger whose level follows --verbose and --quiet.
func NewLogger(w io.Writer, verbose, quiet bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "debsnap"})
	switch {
	case verbose:
		logger.SetLevel(log.DebugLevel)
	case quiet:
		logger.SetLevel(log.WarnLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

// NewClient creates the mirror client described by the configuration.
func (e *Env) NewClient() *snapshot.Client {
	return snapshot.NewClient(
		snapshot.WithBaseURL(e.Config.MirrorURL),
		snapshot.WithUserAgent(e.Config.UserAgent),
		snapshot.WithTimeout(e.Config.Timeout),
		snapshot.WithLogger(e.logger()),
	)
}

func (e *Env) newResolver(client *snapshot.Client) (*resolver.Resolver, error) {
	cache, err := resolver.NewPersistentCache(e.Config.CachePath(), resolver.WithCacheLogger(e.logger()))
	if err != nil {
		return nil, err
	}
	return resolver.New(client,
		resolver.WithCache(cache),
		resolver.WithDscFilter(e.Config.DscFilter),
		resolver.WithLogger(e.logger()),
	), nil
}

// ReadPackages reads a package list from path, or from stdin when path is
// empty or "-".
func ReadPackages(path string, stdin io.Reader) ([]*debian.PackageRef, error) {
	if path == "" || path == "-" {
		return debian.ParsePackageList(stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package list: %w", err)
	}
	defer f.Close()

	return debian.ParsePackageList(f)
}

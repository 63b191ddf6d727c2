package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tendant/community-highlighter/internal/config"
	"github.com/tendant/community-highlighter/internal/history"
	"github.com/tendant/community-highlighter/internal/logging"
	"github.com/tendant/community-highlighter/internal/render"
	"github.com/tendant/community-highlighter/internal/storage"
	"github.com/tendant/community-highlighter/internal/workflows"
	"github.com/tendant/community-highlighter/pkg/client"
)

type commandContext struct {
	configFlag   *string
	backendFlag  *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, backendFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		backendFlag:  backendFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Read(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if v := strings.TrimSpace(*c.backendFlag); v != "" {
			cfg.BackendURL = v
		}
		if v := strings.TrimSpace(*c.logLevelFlag); v != "" {
			cfg.LogLevel = v
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// session bundles what a single command invocation talks to
type session struct {
	cfg          *config.Config
	logger       *slog.Logger
	client       *client.Client
	orchestrator *workflows.Orchestrator
	ledger       *history.Ledger
}

func (s *session) Close() {
	if s.ledger != nil {
		s.ledger.Close()
	}
}

// resolve turns a backend locator into a URL, falling back to the locator
func (s *session) resolve(locator string) string {
	u, err := s.client.ResolveURL(locator)
	if err != nil {
		return locator
	}
	return u
}

func (c *commandContext) openSession(cmd *cobra.Command, extra ...workflows.Option) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	api := client.NewWithHTTPClient(cfg.BackendURL, &http.Client{Timeout: timeout})

	s := &session{cfg: cfg, logger: logger, client: api}

	opts := []workflows.Option{workflows.WithLogger(logger)}
	if cfg.DatabaseURL != "" {
		ledger, err := history.Open(cmd.Context(), cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			s.ledger = ledger
			opts = append(opts, workflows.WithRecorder(ledger))
		}
	}
	opts = append(opts, extra...)

	s.orchestrator = workflows.New(api, opts...)
	return s, nil
}

// withSession opens a session for the duration of fn
func (c *commandContext) withSession(cmd *cobra.Command, fn func(*session) error) error {
	s, err := c.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// artifactKey maps a backend locator to a storage key
func artifactKey(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil {
		p = u.Path
	}
	p = strings.TrimLeft(path.Clean("/"+p), "/")
	if p == "" {
		return "artifact"
	}
	return p
}

// savedArtifact describes a fetched artifact on disk
type savedArtifact struct {
	Path     string
	Size     int64
	Replaced bool
}

func (a savedArtifact) String() string {
	verb := "saved"
	if a.Replaced {
		verb = "replaced"
	}
	return fmt.Sprintf("%s %s (%d bytes)", verb, a.Path, a.Size)
}

// fetchArtifact downloads locator into store
func fetchArtifact(ctx context.Context, s *session, store storage.Store, locator string) (savedArtifact, error) {
	key := artifactKey(locator)
	existed, err := store.Exists(ctx, key)
	if err != nil {
		return savedArtifact{}, err
	}

	body, err := s.client.Fetch(ctx, locator)
	if err != nil {
		return savedArtifact{}, err
	}
	defer body.Close()

	if _, err := store.Put(ctx, key, body); err != nil {
		return savedArtifact{}, fmt.Errorf("failed to save %s: %w", locator, err)
	}
	md, err := store.GetMetadata(ctx, key)
	if err != nil {
		return savedArtifact{}, err
	}

	s.logger.Info("artifact saved", "locator", locator, "path", md.Path, "bytes", md.Size, "replaced", existed)
	return savedArtifact{Path: md.Path, Size: md.Size, Replaced: existed}, nil
}

func printMetadata(w io.Writer, s *session) {
	if md, ok := s.orchestrator.Metadata(); ok {
		fmt.Fprintln(w, render.MetadataTable(md))
	}
}

func printResult(w io.Writer, s *session) {
	fmt.Fprintln(w, render.ResultTable(s.orchestrator.Result(), s.resolve))
}

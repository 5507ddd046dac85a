package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/repositories"
	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/acbeers/mastodonlm/internal/tasks"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	baseURL    func(host string) string
	store      models.Store
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	BaseURL    func(host string) string // BaseURL overrides where remote hosts are reached; nil means https://host
	Store      models.Store             // Store is used instead of opening the configured one
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		store:      opts.Store,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, setupCommand, blocklistCommand, allowCommand, loginCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// openStore returns the injected store, or opens the configured one. The caller closes it with the returned func.
func (r *Runner) openStore(ctx context.Context) (models.Store, func(), error) {
	if r.store != nil {
		return r.store, func() {}, nil
	}

	store, err := repositories.Open(ctx, r.config.Store, r.config.Auth.SessionTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			r.logger.Warn("failed to close store", "error", err)
		}
	}, nil
}

// components is the wired core shared by serve and login.
type components struct {
	factory *services.ClientFactory
	trust   *tasks.HostTrust
	flow    *tasks.AuthFlow
	lists   *tasks.ListManager
}

func (r *Runner) wire(store models.Store, devOrigin string) *components {
	auth := r.config.Auth

	factory := services.NewClientFactory(store.Sessions(), store.HostConfigs(), services.FactoryOptions{
		HTTPClient: r.httpClient,
		BaseURL:    r.baseURL,
		UserAgent:  auth.UserAgent,
		Timeout:    auth.Timeout,
		Logger:     shared.WithLogger(r.logger, "component", "factory"),
	})
	registry := services.NewAppRegistry(store.HostConfigs(), factory, auth.AppName, auth.Website)
	trust := tasks.NewHostTrust(store.Trust(), r.config.Blocklist.Rate, shared.WithLogger(r.logger, "component", "trust"))

	flow := tasks.NewAuthFlow(store, trust, registry, factory, tasks.AuthFlowOptions{
		RedirectBase: auth.RedirectBase,
		DevOrigin:    devOrigin,
	}, shared.WithLogger(r.logger, "component", "auth"))

	return &components{
		factory: factory,
		trust:   trust,
		flow:    flow,
		lists:   tasks.NewListManager(factory, shared.WithLogger(r.logger, "component", "lists")),
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

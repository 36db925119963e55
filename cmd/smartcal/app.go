package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/ai"
	"github.com/guilherme-santos/smartcal/ai/anthropic"
	"github.com/guilherme-santos/smartcal/ai/openai"
	"github.com/guilherme-santos/smartcal/ai/prompt"
	"github.com/guilherme-santos/smartcal/calendar"
	"github.com/guilherme-santos/smartcal/calendar/caldav"
	"github.com/guilherme-santos/smartcal/calendar/google"
	"github.com/guilherme-santos/smartcal/calendar/timetree"
	"github.com/guilherme-santos/smartcal/internal"
	"github.com/guilherme-santos/smartcal/internal/config"
	"github.com/guilherme-santos/smartcal/internal/lifecycle"
	"github.com/guilherme-santos/smartcal/internal/parser"
	"github.com/guilherme-santos/smartcal/internal/ratelimit"
	"github.com/guilherme-santos/smartcal/internal/sqlite"
	"github.com/guilherme-santos/smartcal/internal/vault"
)

type app struct {
	cfg       *config.Config
	out       io.Writer
	in        io.Reader
	logger    logr.Logger
	storage   *sqlite.Storage
	calendars *calendar.Mux
	vault     *vault.Vault
	lifecycle *lifecycle.Lifecycle
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	logger := internal.NewLogger(os.Stderr, cfg.Log.Prefix, cfg.Log.Verbose)

	storage, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	calendars, err := newCalendarMux(cfg, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		out:       out,
		in:        os.Stdin,
		logger:    logger,
		storage:   storage,
		calendars: calendars,
	}

	if cfg.Vault.Key != "" {
		cipher, err := vault.NewCipher(cfg.Vault.Cipher, cfg.Vault.Key)
		if err != nil {
			storage.Close()
			return nil, err
		}
		a.vault = vault.New(storage, cipher, calendars, logger)
		a.vault.Window = cfg.Vault.RefreshWindow.Duration
		a.lifecycle = lifecycle.New(storage, calendars, a.vault, logger)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.storage.Close()
}

var errNoVault = errors.New("vault key is not configured, set SMARTCAL_VAULT_KEY or [vault] key")

func (a *app) requireVault() error {
	if a.vault == nil {
		return errNoVault
	}
	return nil
}

func newCalendarMux(cfg *config.Config, logger logr.Logger) (*calendar.Mux, error) {
	mux := calendar.NewMux()

	if cfg.TimeTree.Enabled() {
		mux.Register(timetree.Platform, timetree.NewClient(timetree.Config{
			ClientID:     cfg.TimeTree.ClientID,
			ClientSecret: cfg.TimeTree.ClientSecret,
			RedirectURL:  cfg.TimeTree.RedirectURL,
			BaseURL:      cfg.TimeTree.BaseURL,
			Timeout:      cfg.TimeTree.Timeout.Duration,
		}, logger))
	}

	if cfg.Google.Enabled() {
		credJSON, err := os.ReadFile(cfg.Google.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading google credentials: %v", err)
		}
		googleCal, err := google.NewClient(google.Config{CredentialsJSON: credJSON}, logger)
		if err != nil {
			return nil, err
		}
		mux.Register(google.Platform, googleCal)
	}

	for name, c := range cfg.CalDAV {
		platform := "caldav:" + name
		client, err := caldav.NewClient(platform, caldav.Config{
			URL:      c.URL,
			Username: c.Username,
			Password: c.Password,
			HomeSet:  c.HomeSet,
		}, logger)
		if err != nil {
			return nil, err
		}
		mux.Register(platform, client)
	}
	return mux, nil
}

// parser builds the parse pipeline. Providers without an API key are skipped.
func (a *app) parser() (*parser.Parser, error) {
	providers := ai.NewMux()
	var names []string
	for _, name := range a.cfg.Parser.Providers {
		pc := a.cfg.Providers[name]
		if pc.APIKey == "" {
			a.logger.V(1).Info("provider has no api key, skipping", "provider", name)
			continue
		}

		var (
			p   smartcal.Provider
			err error
		)
		switch name {
		case openai.Name:
			p, err = openai.New(openai.Config{
				APIKey:      pc.APIKey,
				BaseURL:     pc.BaseURL,
				Model:       pc.Model,
				MaxTokens:   pc.MaxTokens,
				Temperature: float32(pc.Temperature),
			})
		case anthropic.Name:
			p, err = anthropic.New(anthropic.Config{
				APIKey:      pc.APIKey,
				BaseURL:     pc.BaseURL,
				Model:       pc.Model,
				MaxTokens:   pc.MaxTokens,
				Temperature: pc.Temperature,
			})
		default:
			return nil, fmt.Errorf("unknown ai provider %q", name)
		}
		if err != nil {
			return nil, err
		}
		providers.Register(p)
		names = append(names, name)
	}
	chain, err := providers.Chain(names...)
	if err != nil {
		return nil, err
	}

	var pack *prompt.Pack
	if a.cfg.Parser.PromptPack != "" {
		pack, err = prompt.LoadPack(a.cfg.Parser.PromptPack)
		if err != nil {
			return nil, err
		}
	}

	limiter := ratelimit.New(a.cfg.Parser.CallsPerMinute, time.Minute)
	gateway := ai.NewGateway(a.cfg.Parser.Timeout.Duration, limiter, a.logger)

	return parser.New(prompt.NewComposer(pack), gateway, chain, a.storage.ParseCache(), parser.Options{
		MaxInputLength: a.cfg.Parser.MaxInputLength,
		MaxRetries:     a.cfg.Parser.MaxRetries,
		MinConfidence:  a.cfg.Parser.MinConfidence,
		CacheTTL:       a.cfg.Parser.CacheTTL.Duration,
	}, a.logger), nil
}

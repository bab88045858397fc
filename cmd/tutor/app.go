package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/catalog"
	"github.com/zulandar/tutorline/internal/config"
	"github.com/zulandar/tutorline/internal/credential"
	"github.com/zulandar/tutorline/internal/db"
	"github.com/zulandar/tutorline/internal/gateway"
	"github.com/zulandar/tutorline/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const notLoggedIn = "not logged in (run `tutor login`)"

// app bundles everything a command needs to talk to the backend.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	client  *api.Client
	catalog *catalog.Loader
	closers []func()
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	store, closeStore, err := openStore(cfg.Credentials)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	gw, err := gateway.New(gateway.Opts{
		BaseURL: cfg.Server.BaseURL,
		Store:   store,
		Timeout: cfg.Server.Timeout,
		Logger:  log,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if a.client, err = api.New(gw); err != nil {
		a.close()
		return nil, err
	}
	if a.catalog, err = catalog.New(catalog.Opts{Source: a.client, Logger: log}); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore returns the credential store selected by the config. Database
// stores are migrated on open.
func openStore(cfg config.CredentialsConfig) (credential.Store, func(), error) {
	if cfg.Driver == "memory" {
		return credential.NewMemoryStore(""), func() {}, nil
	}

	gormDB, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open credential store: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		closeDB()
		return nil, nil, err
	}
	store, err := credential.NewDBStore(gormDB)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}

// withApp opens the app for one command and turns backend failures into
// messages fit for the terminal. A token the server refused is forgotten.
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	err = fn(cmd.Context(), a)
	if errors.Is(err, gateway.ErrUnauthenticated) && gateway.IsRejected(err) {
		if cerr := a.client.Logout(); cerr != nil {
			a.log.Warn("clear refused credential", zap.Error(cerr))
		} else {
			a.log.Info("credential refused by server, cleared")
		}
	}
	return userError(err)
}

func userError(err error) error {
	if err == nil {
		return nil
	}
	if nav, ok := gateway.AsNavigation(err); ok {
		if nav.Target == gateway.DestinationLogin {
			return errors.New(notLoggedIn)
		}
		if nav.Cause != nil {
			err = nav.Cause
		}
	}
	if errors.Is(err, gateway.ErrUnauthenticated) {
		return errors.New(notLoggedIn)
	}
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	if gateway.IsRejected(err) || gateway.IsUnreachable(err) {
		return errors.New(gateway.Describe(err, err.Error()))
	}
	return err
}

// terminalWidth resolves ui.width, asking the terminal when it is zero.
func terminalWidth(cfg config.UIConfig) int {
	if cfg.Width > 0 {
		return cfg.Width
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// promptPassword reads a password without echo from a terminal, or a plain
// line when stdin is redirected.
func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

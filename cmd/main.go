package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/user"
)

var errNoPwFile = errors.New("server.pwfile is not configured")

type runCommand struct{}

type createUserCommand struct{}

type deleteUserCommand struct {
	Username string `arg:"" help:"Account to remove from the password file"`
}

type cli struct {
	Config string `short:"c" help:"Configuration file" default:"config.yml" type:"path"`

	Run        runCommand        `cmd:"" default:"1" help:"Run the service described by the configuration"`
	CreateUser createUserCommand `cmd:"" help:"Add an API account to the server password file"`
	DeleteUser deleteUserCommand `cmd:"" help:"Remove an API account from the server password file"`
}

type runContext struct {
	cfg *pkg.Config
	lg  *logger.Logger
}

func (runCommand) Run(c *runContext) error {
	c.lg.Infof("fsmonitor :: %s on %s", c.cfg.ServiceType, c.cfg.Address)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return pkg.Run(ctx, c.cfg, c.lg)
}

func (createUserCommand) Run(c *runContext) error {
	um, err := users(c.cfg)
	if err != nil {
		return err
	}
	cred, err := um.PromptCredential(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	if err := um.CreateUser(cred); err != nil {
		return err
	}
	c.lg.Infof("fsmonitor :: user %s created", cred.Username)
	return nil
}

func (d deleteUserCommand) Run(c *runContext) error {
	um, err := users(c.cfg)
	if err != nil {
		return err
	}
	if err := um.DeleteUser(d.Username); err != nil {
		return err
	}
	c.lg.Infof("fsmonitor :: user %s deleted", d.Username)
	return nil
}

func users(cfg *pkg.Config) (*user.UserManager, error) {
	if cfg.Server.PwFile == "" {
		return nil, errNoPwFile
	}
	return user.New(cfg.Server.PwFile)
}

func main() {
	var params cli
	kctx := kong.Parse(&params,
		kong.Name("fsmonitor"),
		kong.Description("Remote filesystem change monitor"))

	cfg, err := pkg.ReadConfig(params.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsmonitor error :: reading configuration file %s: %v\n", params.Config, err)
		os.Exit(1)
	}
	lg := logger.New(os.Stdout, "fsmonitor --> ", cfg.LogLevel(), cfg.Log.Color)

	if err := kctx.Run(&runContext{cfg: cfg, lg: lg}); err != nil {
		lg.Errorf("fsmonitor error :: %v", err)
		os.Exit(1)
	}
}

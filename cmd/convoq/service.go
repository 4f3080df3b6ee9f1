package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/convoq/pkg/app"
)

var serviceActions = []string{"install", "uninstall", "start", "stop", "restart"}

// program runs the server under the system service manager.
type program struct {
	opts app.Options
	env  *app.Env
}

func (p *program) Start(service.Service) error {
	env, err := app.Load(context.Background(), p.opts)
	if err != nil {
		return err
	}
	if err := env.Start(); err != nil {
		env.Close()
		return err
	}
	p.env = env
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.env != nil {
		p.env.Close()
		p.env = nil
	}
	return nil
}

func newService(cmd *cobra.Command) (service.Service, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		resolved, err := app.ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")

	args := []string{"service", "run", "--config", abs}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	return service.New(
		&program{opts: app.Options{ConfigPath: abs, DataDir: dataDir, Version: version}},
		serviceConfig(args),
	)
}

func serviceConfig(args []string) *service.Config {
	return &service.Config{
		Name:        "convoq",
		DisplayName: "convoq",
		Description: "Conversational query orchestrator",
		Arguments:   args,
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart>",
		Short:     "Manage convoq as a system service",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			if err := service.Control(svc, args[0]); err != nil {
				return fmt.Errorf("service %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	})
	return cmd
}

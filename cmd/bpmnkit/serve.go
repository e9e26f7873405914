package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/bpmnkit/internal/api"
	"github.com/rendis/bpmnkit/internal/scheduler"
	"github.com/rendis/bpmnkit/pkg/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var noMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, with the MCP tools mounted under /mcp",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeFn, err := a.openService(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			if svc.ArchiveEnabled() && a.cfg.Store.VacuumSchedule != "" {
				sched := scheduler.New(a.logger)
				if err := sched.Add("vacuum", a.cfg.Store.VacuumSchedule, svc.Vacuum); err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
			}

			deps := api.Deps{Service: svc, Logger: a.logger, Version: version}
			if !noMCP {
				deps.MCP = mcp.NewServer(mcp.ServerDeps{Service: svc, Logger: a.logger, Version: version}).HTTPHandler()
			}

			a.logger.Info("starting bpmnkit",
				"version", version,
				"archive", svc.ArchiveEnabled(),
				"mcp", !noMCP,
				"pitch", svc.Pitch(),
			)
			return api.NewServer(deps).Serve(ctx, a.cfg.ListenAddr)
		},
	}
	cmd.Flags().String("listen-addr", ":4100", "TCP listen address")
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "do not mount the MCP transport")
	_ = a.v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen-addr"))
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long:  "Runs an MCP server on stdin/stdout for agent clients. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeFn, err := a.openService(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			srv := mcp.NewServer(mcp.ServerDeps{Service: svc, Logger: a.logger, Version: version})
			a.logger.Info("mcp server on stdio", "version", version, "archive", svc.ArchiveEnabled())
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/service"
	"github.com/rendis/bpmnkit/internal/store"
)

// app carries the state shared by every subcommand once the configuration
// has been loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "bpmnkit",
		Short: "Synthesize BPMN 2.0 diagrams from workflow descriptions",
		Long: `bpmnkit turns a structured workflow description into a BPMN 2.0 XML
document with diagram interchange, ready to open in Camunda Modeler or bpmn.io.

Specs can be given as JSON, read from a free-text brief with section headers,
or extracted from any JSON document with a jq program.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ~/.bpmnkit/config.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("db-path", "", "diagram archive path (default: ~/.bpmnkit/bpmnkit.db)")
	flags.Bool("store", true, "enable the diagram archive")
	flags.Int("pitch", 0, "horizontal distance between columns (default: layout default)")

	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("db_path", flags.Lookup("db-path"))
	_ = a.v.BindPFlag("store.enabled", flags.Lookup("store"))
	_ = a.v.BindPFlag("layout.pitch", flags.Lookup("pitch"))

	root.AddCommand(
		newSynthCmd(a),
		newParseCmd(a),
		newExtractCmd(a),
		newBatchCmd(a),
		newVerifyCmd(a),
		newPreviewCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

// openService builds the service. The archive is opened only when archive is
// true and store.enabled is set; the returned close func releases it.
func (a *app) openService(ctx context.Context, archive bool) (*service.Service, func(), error) {
	deps := service.Deps{Logger: a.logger, Pitch: a.cfg.Layout.Pitch}
	closeFn := func() {}

	if archive && a.cfg.Store.Enabled {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate archive: %w", err)
		}
		deps.Store = s
		deps.Audit = store.NewEventLog(s)
		closeFn = func() {
			if err := s.Close(); err != nil {
				a.logger.Warn("close archive", "error", err)
			}
		}
		a.logger.Debug("archive opened", "db_path", a.cfg.DBPath)
	}

	svc, err := service.New(deps)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}

// readInput reads the first argument as a file, or stdin when it is absent
// or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

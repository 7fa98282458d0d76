package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/activation"
	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/logging"
	"github.com/hpungsan/echocap/internal/mcp"
	"github.com/hpungsan/echocap/internal/metrics"
	"github.com/hpungsan/echocap/internal/ops"
	"github.com/hpungsan/echocap/internal/orchestrator"
	"github.com/hpungsan/echocap/internal/recording"
)

// env holds the collaborators shared by every command. device and
// recognizer are built from config in Before unless already set.
type env struct {
	store      *db.Store
	cfg        *config.Config
	enc        crypt.Provider
	logger     *zap.Logger
	device     capture.Device
	recognizer activation.Recognizer
}

// session returns a fresh capture session on the env's device.
func (e *env) session() *capture.Session {
	return capture.NewSession(e.device,
		capture.WithChunkInterval(e.cfg.ChunkInterval()),
		capture.WithLogger(e.logger.Named("capture")),
	)
}

// newCLIApp creates the CLI application with all commands. e may be nil
// when only help or version output is needed.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "echocap",
		Usage:   "Voice-activated encrypted capture",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug|info|warn|error (default: config log_level)"},
			&cli.BoolFlag{Name: "log-json", Usage: "Write JSON logs to stderr"},
		},
		Before: func(c *cli.Context) error {
			if e == nil {
				return nil
			}
			return e.setup(c)
		},
		After: func(_ *cli.Context) error {
			if e != nil && e.logger != nil {
				_ = e.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			registerCmd(e),
			statusCmd(e),
			listenCmd(e),
			recordCmd(e),
			listCmd(e),
			exportCmd(e),
			deleteCmd(e),
			settingsCmd(e),
			trainCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// setup builds the logger and any collaborator not injected by the caller.
func (e *env) setup(c *cli.Context) error {
	level := c.String("log-level")
	if level == "" {
		level = e.cfg.LogLevel
	}
	logger, err := logging.New(level, c.Bool("log-json"))
	if err != nil {
		return outputError(errors.NewInvalidRequest(err.Error()))
	}
	e.logger = logger

	if e.device == nil {
		e.device = capture.NewCommandDevice(e.cfg.AudioCaptureCommand, e.cfg.VideoCaptureCommand, logger.Named("device"))
	}
	if e.recognizer == nil {
		e.recognizer = activation.NewCommandRecognizer(e.cfg.RecognizerCommand, logger.Named("recognizer"))
	}
	return nil
}

// registerCmd creates the register command.
func registerCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Generate this device's encryption token (prints it once)",
		Action: func(c *cli.Context) error {
			output, err := ops.Register(c.Context, e.store)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show registration, recording count, settings and training progress",
		Action: func(c *cli.Context) error {
			tr, err := ops.LoadTrainer(c.Context, e.store)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.DeviceStatus(c.Context, e.store, tr)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// listenCmd creates the listen command.
func listenCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "Listen for the start and stop phrases and save each capture (until interrupted)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "enable", Usage: "Turn voice activation on if it is off in settings"},
		},
		Action: func(c *cli.Context) error {
			settings, err := ops.GetSettings(c.Context, e.store)
			if err != nil {
				return outputError(err)
			}
			if !settings.ActivationEnabled && !c.Bool("enable") {
				stateErr := errors.NewInvalidState("activation", "listen", "disabled")
				stateErr.Hint = "pass --enable or run `echocap settings set --activation=true`"
				return outputError(stateErr)
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if e.cfg.MetricsAddr != "" {
				reg := prometheus.NewRegistry()
				if err := metrics.Init(reg); err != nil {
					return outputError(errors.NewInternal(err))
				}
				go func() {
					if err := metrics.Serve(ctx, e.cfg.MetricsAddr, reg, e.logger.Named("metrics")); err != nil {
						e.logger.Warn("metrics server stopped", zap.Error(err))
					}
				}()
			}

			out := json.NewEncoder(c.App.Writer)
			orch := orchestrator.New(e.store, e.enc, e.session(), e.recognizer,
				orchestrator.WithLogger(e.logger.Named("orchestrator")),
				orchestrator.WithRestartDelay(e.cfg.RestartDelay()),
				orchestrator.WithSavedHandler(func(rec *recording.Recording) {
					_ = out.Encode(rec)
				}),
			)

			e.logger.Info("listening",
				zap.String("start_phrase", settings.StartPhrase),
				zap.String("stop_phrase", settings.StopPhrase))
			if err := orch.Run(ctx); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// recordCmd creates the record command.
func recordCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Capture for a fixed duration and save the encrypted recording",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Capture mode: voice|video (default: settings capture_mode)"},
			&cli.Float64Flag{Name: "seconds", Aliases: []string{"s"}, Value: 10, Usage: "How long to record"},
		},
		Action: func(c *cli.Context) error {
			mode, err := e.captureMode(c.Context, c.String("mode"))
			if err != nil {
				return outputError(err)
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			session := e.session()
			d := time.Duration(c.Float64("seconds") * float64(time.Second))
			capt, err := ops.CaptureFor(ctx, session, mode, d)
			if err != nil {
				return outputError(err)
			}
			defer session.Clear()

			rec, err := ops.SaveCapture(context.WithoutCancel(ctx), e.store, e.enc, capt)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, rec)
		},
	}
}

// captureMode resolves an explicit mode flag, falling back to settings.
func (e *env) captureMode(ctx context.Context, flag string) (recording.Kind, error) {
	if flag != "" {
		return recording.ParseKind(flag)
	}
	settings, err := ops.GetSettings(ctx, e.store)
	if err != nil {
		return "", err
	}
	return recording.ParseKind(string(settings.CaptureMode))
}

// listCmd creates the list command.
func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recordings, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Filter by type: voice|video"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListRecordings(c.Context, e.store, ops.ListInput{
				Kind:   c.String("type"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Decrypt recordings to .webm files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Export only this recording"},
			&cli.StringFlag{Name: "dir", Usage: "Destination directory (default: ~/.echocap/exports)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, e.store, e.enc, e.cfg, ops.ExportInput{
				ID:  c.String("id"),
				Dir: c.String("dir"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Permanently delete a recording",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.DeleteRecording(c.Context, e.store, ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// settingsCmd creates the settings command and its subcommands.
func settingsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change phrases, capture mode and activation",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show current settings",
				Action: func(c *cli.Context) error {
					output, err := ops.GetSettings(c.Context, e.store)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:  "set",
				Usage: "Change one or more settings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start-phrase", Usage: "Phrase that starts a capture"},
					&cli.StringFlag{Name: "stop-phrase", Usage: "Phrase that stops a capture"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Capture mode: voice|video"},
					&cli.BoolFlag{Name: "activation", Usage: "Voice activation on or off"},
					&cli.StringFlag{Name: "theme", Usage: "Theme: light|dark"},
				},
				Action: func(c *cli.Context) error {
					var input ops.SettingsInput
					if c.IsSet("start-phrase") {
						v := c.String("start-phrase")
						input.StartPhrase = &v
					}
					if c.IsSet("stop-phrase") {
						v := c.String("stop-phrase")
						input.StopPhrase = &v
					}
					if c.IsSet("mode") {
						v := c.String("mode")
						input.CaptureMode = &v
					}
					if c.IsSet("activation") {
						v := c.Bool("activation")
						input.ActivationEnabled = &v
					}
					if c.IsSet("theme") {
						v := c.String("theme")
						input.Theme = &v
					}

					output, err := ops.UpdateSettings(c.Context, e.store, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
		},
	}
}

// trainCmd creates the train command and its subcommands.
func trainCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Record and inspect voice training samples",
		Subcommands: []*cli.Command{
			{
				Name:  "record",
				Usage: "Record training samples of a phrase",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "phrase", Aliases: []string{"p"}, Required: true, Usage: "Phrase being spoken"},
					&cli.IntFlag{Name: "samples", Aliases: []string{"n"}, Value: 1, Usage: "Number of samples to record"},
				},
				Action: func(c *cli.Context) error {
					n := c.Int("samples")
					if n <= 0 {
						return outputError(errors.NewInvalidRequest("samples must be positive"))
					}
					tr, err := ops.LoadTrainer(c.Context, e.store)
					if err != nil {
						return outputError(err)
					}

					ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer cancel()

					phrase := c.String("phrase")
					session := e.session()
					var output *ops.TrainingStatusOutput
					for i := 1; i <= n; i++ {
						fmt.Fprintf(c.App.ErrWriter, "sample %d/%d: say %q\n", i, n, phrase)
						capt, err := ops.CaptureFor(ctx, session, recording.KindVoice, e.cfg.TrainingSample())
						if err != nil {
							return outputError(err)
						}
						output, err = ops.AddTrainingSample(ctx, e.store, tr, phrase, capt.Data)
						session.Clear()
						if err != nil {
							return outputError(err)
						}
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:  "status",
				Usage: "Show training progress",
				Action: func(c *cli.Context) error {
					tr, err := ops.LoadTrainer(c.Context, e.store)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, ops.TrainingStatus(tr))
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every training sample",
				Action: func(c *cli.Context) error {
					tr, err := ops.LoadTrainer(c.Context, e.store)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.ClearTraining(c.Context, e.store, tr)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:  "match",
				Usage: "Check a .webm sample against the trained phrase",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "phrase", Aliases: []string{"p"}, Required: true, Usage: "Trained phrase"},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Sample file path"},
				},
				Action: func(c *cli.Context) error {
					tr, err := ops.LoadTrainer(c.Context, e.store)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.MatchSample(tr, e.cfg, ops.MatchInput{
						Phrase: c.String("phrase"),
						Path:   c.String("file"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio (default when stdin is piped)",
		Action: func(_ *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(e.cfg.DisabledTools); len(unknown) > 0 {
				e.logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
			}
			if err := mcp.Run(e.store, e.cfg, e.enc, e.logger.Named("mcp"), Version); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI as "[CODE] message (hint)".
func outputError(err error) error {
	if echoErr, ok := errors.As(err); ok {
		msg := fmt.Sprintf("[%s] %s", echoErr.Code, echoErr.Message)
		if echoErr.Hint != "" {
			msg += " (" + echoErr.Hint + ")"
		}
		return cli.Exit(msg, 1)
	}
	return cli.Exit(err.Error(), 1)
}

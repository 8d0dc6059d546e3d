// Command gridcalc applies an edit script to a calculation engine and writes
// the resulting grid as CSV.
package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/noaknobel/final-project/packages/config"
	"github.com/noaknobel/final-project/packages/logging"
	"github.com/noaknobel/final-project/packages/spreadsheet"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	if err := run(os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		if exitErr, ok := err.(*ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the application so tests can drive it with buffers
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	return newApp(stdin, stdout, stderr).Run(args)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "gridcalc",
		Usage:     "spreadsheet calculation engine",
		UsageText: "gridcalc [global options] command [script]",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML configuration file",
				EnvVars: []string{"GRIDCALC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "number-format",
				Usage: "override the configured number display format, e.g. \"#,##0.00\"",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "eval",
				Usage:     "apply a script and write the grid as CSV",
				ArgsUsage: "[script]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "raw", Usage: "export raw cell input instead of display values"},
					&cli.BoolFlag{Name: "strict", Usage: "exit with status 1 when any write is refused"},
				},
				Action: func(ctx *cli.Context) error {
					return evalCommand(ctx, stdin)
				},
			},
			{
				Name:      "stats",
				Usage:     "apply a script and print engine statistics",
				ArgsUsage: "[script]",
				Action: func(ctx *cli.Context) error {
					return statsCommand(ctx, stdin)
				},
			},
			{
				Name:  "config",
				Usage: "print the effective configuration",
				Action: func(ctx *cli.Context) error {
					c, err := loadConfig(ctx)
					if err != nil {
						return err
					}
					return c.Write(ctx.App.Writer)
				},
			},
		},
	}
}

// loadConfig layers the config file, environment and flags, then validates
func loadConfig(ctx *cli.Context) (config.Config, error) {
	c, err := config.Load(ctx.String("config"))
	if err != nil {
		return config.Config{}, &ExitError{Code: 2, Message: err.Error()}
	}
	if err := c.ApplyEnvOverrides(); err != nil {
		return config.Config{}, &ExitError{Code: 2, Message: errors.Wrap(err, "apply env config").Error()}
	}
	if level := ctx.String("log-level"); level != "" {
		c.Log.Level = level
	}
	if format := ctx.String("number-format"); format != "" {
		c.Engine.NumberFormat = format
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, &ExitError{Code: 2, Message: errors.Wrap(err, "invalid configuration").Error()}
	}
	return c, nil
}

// session is an engine with its logger, loaded and ready for a script
type session struct {
	engine *spreadsheet.Engine
	logger *logging.Logger
}

func openSession(ctx *cli.Context) (*session, error) {
	c, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewWithStreams(c.Log, zapcore.AddSync(ctx.App.Writer), zapcore.AddSync(ctx.App.ErrWriter))
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	engine, err := spreadsheet.New(spreadsheet.WithConfig(c.Engine), spreadsheet.WithLogger(logger.Logger))
	if err != nil {
		logger.Close()
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return &session{engine: engine, logger: logger}, nil
}

// runScript reads the script named by the first argument, or stdin, and
// applies it
func (s *session) runScript(ctx *cli.Context, stdin io.Reader) ([]Rejection, error) {
	in := stdin
	if path := ctx.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open script")
		}
		defer f.Close()
		in = f
	}
	instructions, err := ParseScript(in)
	if err != nil {
		return nil, err
	}
	rejections := Apply(s.engine, instructions)
	for _, r := range rejections {
		fmt.Fprintf(ctx.App.ErrWriter, "line %d: %v\n", r.Instruction.Line, r.Err)
	}
	return rejections, nil
}

func evalCommand(ctx *cli.Context, stdin io.Reader) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.logger.Close()

	rejections, err := s.runScript(ctx, stdin)
	if err != nil {
		return err
	}

	rows := s.engine.ExportRows()
	if ctx.Bool("raw") {
		rows = s.engine.ExportRawRows()
	}
	w := csv.NewWriter(ctx.App.Writer)
	for row := range rows {
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write csv")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "write csv")
	}

	if ctx.Bool("strict") && len(rejections) > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d write(s) refused", len(rejections))}
	}
	return nil
}

func statsCommand(ctx *cli.Context, stdin io.Reader) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.logger.Close()

	rejections, err := s.runScript(ctx, stdin)
	if err != nil {
		return err
	}

	st := s.engine.Stats()
	out := ctx.App.Writer
	fmt.Fprintf(out, "cells:          %s\n", humanize.Comma(int64(st.Cells)))
	fmt.Fprintf(out, "formulas:       %s\n", humanize.Comma(int64(st.Formulas)))
	fmt.Fprintf(out, "errors:         %s\n", humanize.Comma(int64(st.Errors)))
	fmt.Fprintf(out, "refused writes: %s\n", humanize.Comma(int64(len(rejections))))
	fmt.Fprintf(out, "graph nodes:    %s\n", humanize.Comma(int64(st.GraphNodes)))
	fmt.Fprintf(out, "graph edges:    %s\n", humanize.Comma(int64(st.GraphEdges)))
	fmt.Fprintf(out, "cached parses:  %s (%s hits, %s misses)\n",
		humanize.Comma(int64(st.CachedParses)),
		humanize.Comma(int64(st.CacheHits)),
		humanize.Comma(int64(st.CacheMisses)))
	return nil
}

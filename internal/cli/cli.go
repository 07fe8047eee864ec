// Package cli implements the statement-analyzer command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/insightdelivered/statement-analyzer/internal/config"
	"github.com/insightdelivered/statement-analyzer/internal/extractor"
	"github.com/insightdelivered/statement-analyzer/internal/ingest"
	"github.com/insightdelivered/statement-analyzer/internal/parser"
	"github.com/insightdelivered/statement-analyzer/internal/storage"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Env is the process surroundings a command runs in.
type Env struct {
	Config *config.Config
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// usageError marks bad flags or flag combinations.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *Env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"ingest", "Parse, classify and store a statement file", runIngest},
		{"reapply", "Re-classify every transaction of an account", runReapply},
		{"audit", "Print the audit report for an account or statement", runAudit},
		{"edit", "Manually set a transaction's category or label", runEdit},
		{"serve", "Start the JSON API", runServe},
		{"clear-statement-data", "Delete transactions, statements or accounts", runClear},
		{"populate-global-rules", "Seed the canonical rule set for one or all users", runPopulate},
		{"activate-custom-rules", "Activate every inactive custom-category rule", runActivate},
	}
}

// Run executes the command named by args[0] and returns the exit code.
func Run(ctx context.Context, env *Env, args []string) int {
	if len(args) == 0 {
		printUsage(env.Stderr)
		return ExitUsage
	}
	switch args[0] {
	case "help", "-h", "--help":
		printUsage(env.Stdout)
		return ExitOK
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		err := c.run(ctx, env, args[1:])
		var ue *usageError
		switch {
		case err == nil:
			return ExitOK
		case errors.Is(err, flag.ErrHelp):
			return ExitOK
		case errors.As(err, &ue):
			fmt.Fprintf(env.Stderr, "Error: %v\n", err)
			return ExitUsage
		default:
			fmt.Fprintf(env.Stderr, "Error: %v\n", err)
			return ExitFailure
		}
	}

	fmt.Fprintf(env.Stderr, "Unknown command: %s\n\n", args[0])
	printUsage(env.Stderr)
	return ExitUsage
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Statement Analyzer")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  statement-analyzer <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-23s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nRun 'statement-analyzer <command> -h' for more information on a command.")
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(env *Env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	return fs
}

// parseFlags parses args and rejects stray positional arguments.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}
	return nil
}

// idFlag is a required positive numeric id.
type idFlag struct {
	val uint
	set bool
}

func (f *idFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.FormatUint(uint64(f.val), 10)
}

func (f *idFlag) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return fmt.Errorf("expected a positive id, got %q", s)
	}
	f.val, f.set = uint(n), true
	return nil
}

func openStore(ctx context.Context, env *Env) (*storage.Store, error) {
	return storage.Open(ctx, env.Config.DBPath)
}

func newService(env *Env, store *storage.Store) *ingest.Service {
	return ingest.NewService(store, parser.Options{
		SampleFallback: env.Config.SampleFallback,
		OCR:            extractor.NewTesseract(env.Config.OCRDPI, env.Config.OCRLang),
	})
}

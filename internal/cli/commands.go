package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/api"
	"github.com/insightdelivered/statement-analyzer/internal/audit"
	"github.com/insightdelivered/statement-analyzer/internal/ingest"
	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/storage"
	"github.com/insightdelivered/statement-analyzer/internal/writer"
)

func runIngest(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "ingest")
	var account idFlag
	fs.Var(&account, "account", "Account ID the statement belongs to (required)")
	file := fs.String("file", "", "Path to the statement file (required)")
	kindFlag := fs.String("kind", "", "Declared file kind: pdf, excel or csv (needed for files without an extension)")
	output := fs.String("output", "", "Also write the classified transactions to this CSV file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if !account.set || *file == "" {
		return usagef("ingest needs --account and --file")
	}
	var kind models.FileKind
	if *kindFlag != "" {
		k, err := models.ParseFileKind(*kindFlag)
		if err != nil {
			return usagef("%v", err)
		}
		kind = k
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintf(env.Stdout, "Processing: %s\n", *file)
	report, err := newService(env, store).Ingest(ctx, ingest.Request{AccountID: account.val, Path: *file, Kind: kind})
	if err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "  Using %s parser\n", report.Parser)
	fmt.Fprintf(env.Stdout, "  Found %d transaction(s), skipped %d\n", report.Transactions, report.Skipped)
	for _, w := range report.Warnings {
		fmt.Fprintf(env.Stdout, "  Warning: %s\n", w)
	}
	if report.Summary != nil {
		fmt.Fprintf(env.Stdout, "  Credits %s, debits %s, net %s\n",
			report.Summary.TotalCredits.StringFixed(2), report.Summary.TotalDebits.StringFixed(2), report.Summary.NetChange.StringFixed(2))
	}
	fmt.Fprintf(env.Stdout, "  Statement ID: %d\n", report.StatementID)

	if *output != "" {
		if err := exportStatement(ctx, store, report.StatementID, *output); err != nil {
			return fmt.Errorf("CSV write failed: %w", err)
		}
		fmt.Fprintf(env.Stdout, "  Output: %s\n", *output)
	}
	fmt.Fprintln(env.Stdout, "  Done.")
	return nil
}

func exportStatement(ctx context.Context, store *storage.Store, statementID uint, path string) error {
	stmt, err := store.Statement(ctx, statementID)
	if err != nil {
		return err
	}
	account, err := store.Account(ctx, stmt.AccountID)
	if err != nil {
		return err
	}
	txs, err := store.StatementTransactions(ctx, statementID)
	if err != nil {
		return err
	}
	names, err := store.CustomCategoryNames(ctx, account.UserID)
	if err != nil {
		return err
	}
	w := &writer.CSVWriter{IncludeHeader: true}
	return w.WriteToFile(path, &writer.Export{Account: account, Statement: stmt, Transactions: txs, CustomNames: names})
}

func runReapply(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "reapply")
	var user, account idFlag
	fs.Var(&user, "user", "Owner user ID (required)")
	fs.Var(&account, "account", "Account ID (required)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if !user.set || !account.set {
		return usagef("reapply needs --user and --account")
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := newService(env, store).Reapply(ctx, user.val, account.val)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Examined %d transaction(s), %d changed, %d manual left untouched\n",
		report.Examined, len(report.Changes), len(report.Manual))
	for _, ch := range report.Changes {
		prev := "-"
		if ch.PreviousCategory != nil {
			prev = ch.PreviousCategory.String()
		}
		fmt.Fprintf(env.Stdout, "  #%d %s -> %s (%s)\n", ch.TransactionID, prev, ch.CurrentCategory, ch.Source)
	}
	return nil
}

func runAudit(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "audit")
	var account, statement idFlag
	fs.Var(&account, "account", "Audit every statement of this account")
	fs.Var(&statement, "statement", "Audit a single statement")
	keyFlag := fs.String("counterparty", "prefix", "Counterparty grouping: prefix or upi")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if account.set == statement.set {
		return usagef("audit needs exactly one of --account and --statement")
	}
	opts := audit.Options{}
	switch *keyFlag {
	case "prefix":
		opts.Counterparty = audit.PrefixKey
	case "upi":
		opts.Counterparty = audit.UPIKey
	default:
		return usagef("--counterparty must be prefix or upi, got %q", *keyFlag)
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	var txs []models.Transaction
	if account.set {
		if _, err := store.Account(ctx, account.val); err != nil {
			return err
		}
		txs, err = store.AccountTransactions(ctx, account.val)
	} else {
		if _, err := store.Statement(ctx, statement.val); err != nil {
			return err
		}
		txs, err = store.StatementTransactions(ctx, statement.val)
	}
	if err != nil {
		return err
	}
	printReport(env.Stdout, audit.Summarize(txs, opts))
	return nil
}

func printReport(w io.Writer, r audit.Report) {
	in, f := r.Integrity, r.Financial
	fmt.Fprintln(w, "=== Data Integrity ===")
	fmt.Fprintf(w, "Transactions: %d (%d statement(s))\n", in.Transactions, in.Statements)
	fmt.Fprintf(w, "Duplicates:   %d\n", in.Duplicates)
	fmt.Fprintf(w, "Quality:      %s (%.0f)\n", in.Quality, in.QualityScore)
	if in.FirstDate != nil && in.LastDate != nil {
		fmt.Fprintf(w, "Period:       %s to %s (%d days)\n", in.FirstDate.Format("2006-01-02"), in.LastDate.Format("2006-01-02"), in.SpanDays)
	}

	fmt.Fprintln(w, "\n=== Financial Summary ===")
	fmt.Fprintf(w, "Total credits: %s\n", f.TotalCredits.StringFixed(2))
	fmt.Fprintf(w, "Total debits:  %s\n", f.TotalDebits.StringFixed(2))
	fmt.Fprintf(w, "Net change:    %s\n", f.NetChange.StringFixed(2))
	fmt.Fprintf(w, "Savings rate:  %s%%\n", f.SavingsRate.StringFixed(2))

	fmt.Fprintf(w, "\n=== High-Value Transactions (%d) ===\n", len(r.HighValue))
	for _, tx := range r.HighValue {
		fmt.Fprintf(w, "%s  %-6s %12s  %s\n", tx.Date.Format("2006-01-02"), tx.Type, tx.Amount.StringFixed(2), tx.Description)
	}

	fmt.Fprintln(w, "\n=== Channels ===")
	for _, c := range r.Channels {
		fmt.Fprintf(w, "%-7s %4d  %5.1f%%  %12s  %s\n", c.Channel, c.Count, c.Share, c.Amount.StringFixed(2), c.Risk)
	}

	fmt.Fprintln(w, "\n=== Top Counterparties ===")
	for i, c := range r.Counterparties {
		if i == 10 {
			break
		}
		fmt.Fprintf(w, "%-40s %4d  %5.1f%%  %s\n", c.Key, c.Count, c.Share, c.Risk)
	}

	fmt.Fprintln(w, "\n=== Monthly Risk ===")
	for _, m := range r.Months {
		flags := "-"
		if len(m.Flags) > 0 {
			flags = strings.Join(m.Flags, ", ")
		}
		fmt.Fprintf(w, "%s  %-6s  %s\n", m.Month, m.Risk, flags)
	}
}

func runEdit(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "edit")
	var id idFlag
	fs.Var(&id, "transaction", "Transaction ID (required)")
	category := fs.String("category", "", "Standard category, e.g. FOOD")
	custom := fs.String("custom", "", "Custom category name")
	label := fs.String("label", "", "Label to attach")
	editor := fs.String("editor", "", "Who made the edit (required)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	labelSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "label" {
			labelSet = true
		}
	})
	if !id.set || strings.TrimSpace(*editor) == "" {
		return usagef("edit needs --transaction and --editor")
	}
	if *category != "" && *custom != "" {
		return usagef("--category and --custom are mutually exclusive")
	}
	if *category == "" && *custom == "" && !labelSet {
		return usagef("edit needs --category, --custom or --label")
	}

	edit := storage.Edit{CustomCategory: *custom, Editor: *editor}
	if *category != "" {
		c, err := models.ParseCategory(*category)
		if err != nil {
			return usagef("%v", err)
		}
		edit.Category = c
	}
	if labelSet {
		edit.Label = label
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	tx, err := store.EditTransaction(ctx, id.val, edit)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Transaction %d: %s", tx.ID, tx.CategoryRef())
	if tx.UserLabel != "" {
		fmt.Fprintf(env.Stdout, " [%s]", tx.UserLabel)
	}
	fmt.Fprintln(env.Stdout)
	return nil
}

func runServe(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "serve")
	addr := fs.String("addr", env.Config.HTTPAddr, "Listen address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	log := logger.FromContext(ctx)
	app := api.NewApp(&api.Handler{Store: store, Ingest: newService(env, store), Log: log})

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := app.Shutdown(); err != nil {
				log.Warn().Err(err).Msg("shutdown failed")
			}
		case <-done:
		}
	}()
	defer close(done)

	log.Info().Str("addr", *addr).Msg("listening")
	if err := app.Listen(*addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

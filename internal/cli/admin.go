package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/rules"
	"github.com/insightdelivered/statement-analyzer/internal/storage"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// clearFlags holds the parsed clear-statement-data flags.
type clearFlags struct {
	all, transactions, statements, accounts bool
	before                                  string
	days                                    int
	user, account                           idFlag
	force                                   bool
}

// options validates the flag combination and builds the store options.
func (f *clearFlags) options(set map[string]bool) (storage.ClearOptions, error) {
	var opts storage.ClearOptions
	scopes := 0
	for _, s := range []struct {
		on    bool
		scope storage.ClearScope
	}{
		{f.all, storage.ClearAll},
		{f.transactions, storage.ClearTransactions},
		{f.statements, storage.ClearStatements},
		{f.accounts, storage.ClearAccounts},
	} {
		if s.on {
			scopes++
			opts.Scope = s.scope
		}
	}
	if scopes != 1 {
		return opts, usagef("choose exactly one of --all, --transactions, --statements and --accounts")
	}
	if set["before"] && set["days"] {
		return opts, usagef("--before and --days are mutually exclusive")
	}
	if f.all && (set["before"] || set["days"]) {
		return opts, usagef("--all cannot be combined with --before or --days")
	}

	switch {
	case set["before"]:
		t, err := time.Parse("2006-01-02", f.before)
		if err != nil {
			return opts, usagef("--before: expected YYYY-MM-DD, got %q", f.before)
		}
		opts.Before = &t
	case set["days"]:
		if f.days <= 0 {
			return opts, usagef("--days must be greater than zero")
		}
		y, m, d := now().Date()
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -f.days)
		opts.Before = &t
	}
	opts.UserID, opts.AccountID = f.user.val, f.account.val
	return opts, nil
}

func describeClear(opts storage.ClearOptions) string {
	var b strings.Builder
	if opts.Scope == storage.ClearAll {
		b.WriteString("ALL accounts, statements and transactions")
	} else {
		b.WriteString("all " + string(opts.Scope))
	}
	if opts.Before != nil {
		b.WriteString(" before " + opts.Before.Format("2006-01-02"))
	}
	if opts.UserID != 0 {
		fmt.Fprintf(&b, " of user %d", opts.UserID)
	}
	if opts.AccountID != 0 {
		fmt.Fprintf(&b, " in account %d", opts.AccountID)
	}
	return b.String()
}

func runClear(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "clear-statement-data")
	var f clearFlags
	fs.BoolVar(&f.all, "all", false, "Delete every account with its statements and transactions")
	fs.BoolVar(&f.transactions, "transactions", false, "Delete transactions only")
	fs.BoolVar(&f.statements, "statements", false, "Delete statements with their transactions")
	fs.BoolVar(&f.accounts, "accounts", false, "Delete accounts with their statements and transactions")
	fs.StringVar(&f.before, "before", "", "Only delete data older than this date (YYYY-MM-DD)")
	fs.IntVar(&f.days, "days", 0, "Only delete data older than this many days")
	fs.Var(&f.user, "user", "Restrict to this user ID")
	fs.Var(&f.account, "account", "Restrict to this account ID")
	fs.BoolVar(&f.force, "force", false, "Skip the confirmation prompt")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	opts, err := f.options(set)
	if err != nil {
		return err
	}

	what := describeClear(opts)
	if !f.force {
		fmt.Fprintf(env.Stdout, "This will permanently delete %s.\nType 'yes' to continue: ", what)
		answer, _ := bufio.NewReader(env.Stdin).ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
			fmt.Fprintln(env.Stdout, "Aborted.")
			return nil
		}
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.ClearData(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Deleted %d transaction(s), %d statement(s), %d account(s), %d summary row(s).\n",
		res.Transactions, res.Statements, res.Accounts, res.Summaries)
	return nil
}

func runPopulate(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "populate-global-rules")
	username := fs.String("user", "", "Only seed this username (default: every user)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	var users []models.User
	if *username != "" {
		u, err := store.UserByName(ctx, *username)
		if err != nil {
			return err
		}
		users = []models.User{*u}
	} else if users, err = store.Users(ctx); err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(env.Stdout, "No users found.")
		return nil
	}

	total := 0
	for _, u := range users {
		n, err := store.SeedRules(ctx, u.ID, rules.GlobalRuleSet(u.ID))
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Username, err)
		}
		fmt.Fprintf(env.Stdout, "%s: %d rule(s) created\n", u.Username, n)
		total += n
	}
	fmt.Fprintf(env.Stdout, "Created %d rule(s) for %d user(s).\n", total, len(users))
	return nil
}

func runActivate(ctx context.Context, env *Env, args []string) error {
	fs := newFlagSet(env, "activate-custom-rules")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ActivateCustomRules(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Activated %d custom category rule(s).\n", n)
	return nil
}

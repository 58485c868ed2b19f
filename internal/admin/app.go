// Package admin implements the operator command line: migrations, user
// inspection, duplicate detection, manual merges and role changes.
package admin

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/artistdir/internal/wallet"
	"github.com/google/uuid"
)

var ErrUsage = errors.New("usage error")

type merger interface {
	Merge(ctx context.Context, currentID, legacyID string) (*models.MergeRecord, error)
}

type App struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	accounts    merger
	in          *bufio.Reader
	out         io.Writer
	assumeYes   bool
	interactive func() bool
}

func NewApp(db *sql.DB, rm repomanager.RepositoryManager, accounts merger, in io.Reader, out io.Writer, assumeYes bool) *App {
	return &App{
		db:          db,
		repomanager: rm,
		accounts:    accounts,
		in:          bufio.NewReader(in),
		out:         out,
		assumeYes:   assumeYes,
		interactive: stdinIsTerminal,
	}
}

const usage = `Commands:
  migrate                                   apply database migrations
  show <id|wallet|externalId>               print a user
  duplicates                                list users sharing an email
  merge <currentId> <legacyId>              merge current user into legacy user
  set-role <id> <admin|superadmin|whitelisted|hidden> <true|false>`

// Run executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "show":
		if len(rest) != 1 {
			return a.usageError("show takes one argument")
		}
		return a.show(ctx, rest[0])
	case "duplicates":
		return a.duplicates(ctx)
	case "merge":
		if len(rest) != 2 {
			return a.usageError("merge takes two user ids")
		}
		return a.merge(ctx, rest[0], rest[1])
	case "set-role":
		if len(rest) != 3 {
			return a.usageError("set-role takes a user id, a role and a value")
		}
		return a.setRole(ctx, rest[0], rest[1], rest[2])
	case "help":
		fmt.Fprintln(a.out, usage)
		return nil
	default:
		return a.usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func (a *App) usageError(msg string) error {
	fmt.Fprintln(a.out, usage)
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}

func (a *App) migrate(ctx context.Context) error {
	if err := a.repomanager.RunMigrations(ctx, a.db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

// findUser resolves a user id, wallet or external identity id. Only keys
// that parse as a UUID are tried against users.id.
func (a *App) findUser(ctx context.Context, key string) (*models.User, error) {
	repo := a.repomanager.Users(a.db)

	if wallet.IsValid(key) {
		return repo.GetByWallet(ctx, key)
	}

	u, err := repo.GetByExternalID(ctx, key)
	if err == nil || !errors.Is(err, common.ErrorNotFound) {
		return u, err
	}

	if _, err := uuid.Parse(key); err != nil {
		return nil, common.ErrorNotFound
	}
	return repo.GetByID(ctx, key)
}

func (a *App) show(ctx context.Context, key string) error {
	u, err := a.findUser(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("no user matches %q", key)
		}
		return err
	}
	printUser(a.out, u)
	return nil
}

func printUser(w io.Writer, u *models.User) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	walletText := "-"
	if u.HasWallet() {
		walletText = *u.Wallet
		if cs, err := wallet.Checksum(*u.Wallet); err == nil {
			walletText = cs
		}
	}

	fmt.Fprintf(tw, "id\t%s\n", u.ID)
	fmt.Fprintf(tw, "external id\t%s\n", orDash(u.ExternalIdentityID))
	fmt.Fprintf(tw, "wallet\t%s\n", walletText)
	fmt.Fprintf(tw, "email\t%s\n", orDash(u.Email))
	fmt.Fprintf(tw, "username\t%s\n", orDash(u.Username))
	fmt.Fprintf(tw, "roles\t%s\n", roles(u))
	fmt.Fprintf(tw, "contributions\t%d\n", u.ContributionCount())
	fmt.Fprintf(tw, "created\t%s\n", u.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func roles(u *models.User) string {
	var r []string
	if u.IsAdmin {
		r = append(r, string(models.RoleAdmin))
	}
	if u.IsSuperAdmin {
		r = append(r, string(models.RoleSuperAdmin))
	}
	if u.IsWhiteListed {
		r = append(r, string(models.RoleWhiteListed))
	}
	if u.IsHidden {
		r = append(r, string(models.RoleHidden))
	}
	if len(r) == 0 {
		return "-"
	}
	return strings.Join(r, ",")
}

func (a *App) duplicates(ctx context.Context) error {
	dups, err := a.repomanager.Users(a.db).FindDuplicateEmails(ctx)
	if err != nil {
		return err
	}
	if len(dups) == 0 {
		fmt.Fprintln(a.out, "no duplicate emails")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tUSERS")
	for _, d := range dups {
		fmt.Fprintf(tw, "%s\t%s\n", d.Email, strings.Join(d.UserIDs, ", "))
	}
	return tw.Flush()
}

// confirm gates destructive commands: a terminal gets a prompt, anything
// else needs -yes.
func (a *App) confirm(prompt string) (bool, error) {
	if a.assumeYes {
		return true, nil
	}
	if !a.interactive() {
		return false, fmt.Errorf("%w: not a terminal, pass -yes to confirm", ErrUsage)
	}
	return Confirm(a.in, prompt, a.out)
}

func (a *App) merge(ctx context.Context, currentID, legacyID string) error {
	ok, err := a.confirm(fmt.Sprintf("Merge user %s into %s? The first user will be deleted.", currentID, legacyID))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "aborted")
		return nil
	}

	rec, err := a.accounts.Merge(ctx, currentID, legacyID)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "merged %s into %s: combined count %d, moved %d artists and %d research rows\n",
		rec.CurrentID, rec.LegacyID, rec.CombinedCount, rec.ArtistsMoved, rec.ContributionsMoved)
	return nil
}

func (a *App) setRole(ctx context.Context, id, role, value string) error {
	r := models.Role(strings.ToLower(role))
	switch r {
	case models.RoleAdmin, models.RoleSuperAdmin, models.RoleWhiteListed, models.RoleHidden:
	default:
		return a.usageError(fmt.Sprintf("unknown role %q", role))
	}

	v, err := strconv.ParseBool(value)
	if err != nil {
		return a.usageError(fmt.Sprintf("invalid value %q", value))
	}

	ok, err := a.confirm(fmt.Sprintf("Set %s=%t on user %s?", r, v, id))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "aborted")
		return nil
	}

	if err := a.repomanager.Users(a.db).SetRole(ctx, id, r, v); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("no user with id %q", id)
		}
		return err
	}

	fmt.Fprintf(a.out, "%s set to %t for %s\n", r, v, id)
	return nil
}

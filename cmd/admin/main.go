package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/config"
	"token-wallet/internal/domain"
	"token-wallet/internal/handler"
	"token-wallet/internal/repository"
	"token-wallet/internal/service"
	"token-wallet/pkg/logger"
	"token-wallet/pkg/postgres"
	"token-wallet/pkg/sqlite"
)

const usage = `usage: admin <command> [flags]

commands:
  report        --account ID [--out FILE]   export an account's transaction log as CSV
  verify        [--account ID]              check balance == opening + top-ups - purchases
  reconcile     [--limit N]                 credit pending orphaned charges once
  settle        --id ID --charged=BOOL      settle an indeterminate charge
  create-admin                              open an admin account and print its token`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	db, err := openDB(cfg, log)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	svc := newService(db, cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "report":
		err = runReport(ctx, svc, args)
	case "verify":
		err = runVerify(ctx, svc, repository.NewAccountRepository(db), args, os.Stdout)
	case "reconcile":
		err = runReconcile(ctx, svc, args)
	case "settle":
		err = runSettle(ctx, svc, args)
	case "create-admin":
		err = runCreateAdmin(ctx, svc, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func openDB(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	if cfg.DBDriver == "sqlite" {
		return sqlite.NewConnection(cfg.DatabaseURL)
	}
	return postgres.NewConnection(cfg.DatabaseURL, log)
}

func newService(db *gorm.DB, cfg *config.Config, log *slog.Logger) *service.WalletService {
	return service.NewWalletService(service.Dependencies{
		Accounts:  repository.NewAccountRepository(db),
		Balances:  repository.NewBalanceRepository(db),
		Ledger:    repository.NewLedgerRepository(db),
		Purchases: repository.NewPurchaseRepository(db),
		Orphans:   repository.NewOrphanRepository(db),
		Content:   repository.NewContentRepository(db),
		Methods:   repository.NewPaymentMethodRepository(db),
	}, service.Options{
		OpeningBalance: cfg.OpeningBalance,
		Currency:       cfg.Currency,
	}, log)
}

func runReport(ctx context.Context, svc *service.WalletService, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (required)")
	outFlag := fs.String("out", "", "output file (default account_<id>_report.csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("--account: %w", err)
	}

	var entries []domain.LedgerEntry
	for page := 1; ; page++ {
		p, err := svc.ListTransactions(ctx, accountID, page, 100)
		if err != nil {
			return err
		}
		entries = append(entries, p.Items...)
		if page >= p.TotalPages {
			break
		}
	}

	name := *outFlag
	if name == "" {
		name = fmt.Sprintf("account_%s_report.csv", accountID)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := writeReport(f, entries); err != nil {
		return err
	}
	fmt.Printf("wrote %d entries to %s\n", len(entries), name)
	return nil
}

func writeReport(w io.Writer, entries []domain.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "kind", "amount", "signed", "status", "description", "ref_kind", "ref_id", "created_at"}); err != nil {
		return err
	}
	for _, e := range entries {
		refID := ""
		if e.Ref.ID != nil {
			refID = *e.Ref.ID
		}
		record := []string{
			strconv.FormatUint(e.ID, 10),
			string(e.Kind),
			e.Amount.String(),
			e.Signed().String(),
			string(e.Status),
			e.Description,
			string(e.Ref.Kind),
			refID,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func runVerify(ctx context.Context, svc *service.WalletService, accounts domain.AccountRepository, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (default: all accounts)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var ids []uuid.UUID
	if *accountFlag != "" {
		id, err := uuid.Parse(*accountFlag)
		if err != nil {
			return fmt.Errorf("--account: %w", err)
		}
		ids = append(ids, id)
	} else {
		list, err := accounts.List(ctx)
		if err != nil {
			return err
		}
		for _, a := range list {
			ids = append(ids, a.ID)
		}
	}

	unbalanced := 0
	for _, id := range ids {
		rec, err := svc.VerifyAccount(ctx, id)
		if err != nil {
			return err
		}
		status := "ok"
		if !rec.Balanced {
			status = "MISMATCH"
			unbalanced++
		}
		fmt.Fprintf(out, "%s %s opening=%s credits=%s debits=%s expected=%s actual=%s\n",
			status, id, rec.Opening, rec.Credits, rec.Debits, rec.Expected, rec.Actual)
	}
	if unbalanced > 0 {
		return fmt.Errorf("%d of %d accounts do not reconcile", unbalanced, len(ids))
	}
	return nil
}

func runReconcile(ctx context.Context, svc *service.WalletService, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	limit := fs.Int("limit", 100, "maximum records to process")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := svc.ReconcileOrphanedCharges(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("credited=%d skipped=%d failed=%d\n", report.Credited, report.Skipped, report.Failed)
	return nil
}

func runSettle(ctx context.Context, svc *service.WalletService, args []string) error {
	fs := flag.NewFlagSet("settle", flag.ExitOnError)
	idFlag := fs.String("id", "", "orphaned charge ID (required)")
	charged := fs.Bool("charged", false, "whether the gateway confirms the charge happened")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*idFlag)
	if err != nil {
		return fmt.Errorf("--id: %w", err)
	}
	orphan, err := svc.SettleIndeterminate(ctx, id, *charged)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", orphan.ID, orphan.State)
	return nil
}

func runCreateAdmin(ctx context.Context, svc *service.WalletService, cfg *config.Config) error {
	account, _, err := svc.OpenAccount(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	token, err := handler.NewAuthenticator(cfg.JWTSecret, cfg.JWTTokenTTL, svc).IssueToken(account.ID)
	if err != nil {
		return err
	}
	fmt.Printf("account: %s\ntoken: %s\n", account.ID, token)
	return nil
}

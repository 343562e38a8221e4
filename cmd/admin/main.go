package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
	"finmirror/internal/domain/openfinance"
	ofclient "finmirror/internal/infrastructure/openfinance"
	"finmirror/internal/infrastructure/postgres"
	"finmirror/internal/shared/config"
)

const usage = `finmirror admin CLI - Management commands for the finmirror API

Usage:
  admin <command> [options]

Commands:
  migrate      Apply pending database migrations
  link-item    Register an item whose access token was already exchanged
  sync         Sync every active item of one or more users and print the summaries

Examples:
  admin migrate
  admin link-item --user-id=USER --item-id=ITEM --access-token=access-sandbox-... \
      --bank-name="First Platypus Bank" --accounts="acc-1:Checking,acc-2:Savings"
  admin sync --user-id=USER
  admin sync --all --timeout=30m
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "migrate":
		runMigrate(os.Args[2:])
	case "link-item":
		runLinkItem(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

// connect loads configuration and opens the database.
func connect() (*config.Config, *postgres.DB) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")
	return cfg, db
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}

func runLinkItem(args []string) {
	fs := flag.NewFlagSet("link-item", flag.ExitOnError)

	userID := fs.String("user-id", "", "Owner of the item")
	itemID := fs.String("item-id", "", "Provider item id")
	accessToken := fs.String("access-token", "", "Provider access token for the item")
	bankName := fs.String("bank-name", "", "Institution name shown to the user")
	accountsStr := fs.String("accounts", "", "Known accounts as id:name pairs, comma-separated")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userID == "" || *itemID == "" || *accessToken == "" {
		fmt.Println("Error: --user-id, --item-id and --access-token are required")
		fs.Usage()
		os.Exit(1)
	}

	accounts, err := parseAccounts(*accountsStr)
	if err != nil {
		log.Fatalf("Invalid --accounts: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	itemRepo := postgres.NewItemRepository(db)
	store := openfinance.NewRepositoryStore(itemRepo, postgres.NewAccountRepository(db), postgres.NewTransactionRepository(db))
	service := openfinance.NewItemService(store, itemRepo, newProviderClient(cfg), nil)

	params := item.CreateParams{ID: *itemID, UserID: *userID, AccessToken: *accessToken}
	if *bankName != "" {
		params.BankName = bankName
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	created, err := service.LinkItem(ctx, params, accounts)
	if err != nil {
		log.Fatalf("Failed to link item: %v", err)
	}
	fmt.Printf("Linked item %s for user %s with %d account(s)\n", created.ID, created.UserID, len(accounts))
}

// parseAccounts reads "id:name,id:name". The name is optional.
func parseAccounts(s string) ([]account.EnsureParams, error) {
	var accounts []account.EnsureParams
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, _ := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("account %q has no id", part)
		}
		accounts = append(accounts, account.EnsureParams{ID: id, Name: strings.TrimSpace(name)})
	}
	return accounts, nil
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	userIDStr := fs.String("user-id", "", "User ID(s) to sync (comma-separated for multiple)")
	allUsers := fs.Bool("all", false, "Sync all users with active items")
	timeoutStr := fs.String("timeout", "10m", "Timeout for the operation (e.g., 5m, 1h)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userIDStr == "" && !*allUsers {
		fmt.Println("Error: must specify --user-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	itemRepo := postgres.NewItemRepository(db)
	store := openfinance.NewRepositoryStore(itemRepo, postgres.NewAccountRepository(db), postgres.NewTransactionRepository(db))
	engine := openfinance.NewTransactionSyncService(newProviderClient(cfg), store, openfinance.SyncOptions{
		MaxAttempts:        cfg.Sync.MaxAttempts,
		RetryDelay:         cfg.Sync.RetryDelay,
		PageTimeout:        cfg.Sync.PageTimeout,
		MaxPagesPerAttempt: cfg.Sync.MaxPagesPerAttempt,
	})
	orchestrator := openfinance.NewSyncOrchestrator(engine, store, nil, cfg.Sync.MaxConcurrentItems)

	var userIDs []string
	if *allUsers {
		userIDs, err = itemRepo.ListUserIDsWithActiveItems(ctx)
		if err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
		log.Printf("Found %d users with active items", len(userIDs))
	} else {
		for _, p := range strings.Split(*userIDStr, ",") {
			if p = strings.TrimSpace(p); p != "" {
				userIDs = append(userIDs, p)
			}
		}
	}

	if len(userIDs) == 0 {
		log.Println("No users to process")
		return
	}

	startTime := time.Now()
	failed := 0
	for _, userID := range userIDs {
		results, err := orchestrator.SyncAllItemsForUser(ctx, userID)
		if err != nil {
			log.Printf("User %s: sync failed: %v", userID, err)
			failed++
			continue
		}
		printSummaries(userID, results)
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
	}

	log.Printf("Sync completed in %v", time.Since(startTime))
	if failed > 0 {
		os.Exit(2)
	}
}

func printSummaries(userID string, results []openfinance.SyncSummary) {
	fmt.Printf("\n=== User %s ===\n", userID)
	if len(results) == 0 {
		fmt.Println("  No active items")
		return
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Printf("  %-30s FAILED: %s\n", r.ItemID, r.Error)
			continue
		}
		fmt.Printf("  %-30s added=%d modified=%d removed=%d\n", r.ItemID, r.Added, r.Modified, r.Removed)
	}
}

func newProviderClient(cfg *config.Config) *ofclient.Client {
	return ofclient.NewClient(ofclient.Config{
		BaseURL:  cfg.Provider.BaseURL,
		ClientID: cfg.Provider.ClientID,
		Secret:   cfg.Provider.Secret,
		Timeout:  cfg.Provider.Timeout,
		PageSize: cfg.Provider.PageSize,
	})
}

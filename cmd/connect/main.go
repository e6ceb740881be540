// Command connect runs a provider's OAuth flow from a terminal. It serves
// the redirect on a loopback address, stores the tokens and lists the
// provider's root folder to confirm access.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/app"
	"github.com/jun/docpick/internal/auth"
	"github.com/jun/docpick/internal/config"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
)

func main() {
	providerFlag := flag.String("provider", "google-drive", "provider to connect (google-drive, dropbox, onedrive, zoom)")
	userID := flag.String("user", "cli-user", "user ID the tokens are stored under")
	addr := flag.String("addr", "127.0.0.1:8765", "loopback address for the OAuth redirect")
	timeout := flag.Duration("timeout", 5*time.Minute, "how long to wait for consent")
	flag.Parse()

	if err := run(*providerFlag, *userID, *addr, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
}

func run(providerName, userID, addr string, timeout time.Duration) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"}); err != nil {
		return err
	}
	defer logging.Sync()

	p, err := model.ParseProvider(providerName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	approver, err := auth.NewLoopbackApprover(addr, "/callback", func(authURL string) error {
		fmt.Printf("Open this URL to grant access:\n\n  %s\n\n", authURL)
		return nil
	})
	if err != nil {
		return err
	}

	conn, sources, err := app.NewCLIConnector(ctx, cfg, p, approver.RedirectURL())
	if err != nil {
		return err
	}
	fmt.Printf("Waiting for the redirect on %s\n", approver.RedirectURL())
	if !conn.Connect(ctx, userID, approver) {
		return fmt.Errorf("%s was not connected", p)
	}
	fmt.Printf("%s connected for %s (state %s)\n", p, userID, conn.Status(ctx, userID))

	if sources == nil {
		return nil
	}
	src, err := sources.Source(ctx, userID)
	if err != nil {
		return err
	}
	page, err := src.ListPage(ctx, adapter.RootRef, "")
	if err != nil {
		return fmt.Errorf("list root: %w", err)
	}
	for _, e := range page.Entries {
		kind := "file"
		if e.IsFolder() {
			kind = "dir"
		}
		fmt.Printf("  %-4s %s\n", kind, e.Name)
	}
	if page.HasMore {
		fmt.Println("  ...")
	}
	return nil
}

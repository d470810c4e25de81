// parley is the terminal front-end: a line-oriented chat loop against a
// local database, plus a usage report.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"

	"github.com/parleybot/parley/common/environment"
	"github.com/parleybot/parley/internal/parley/app"
	"github.com/parleybot/parley/internal/parley/chat"
	"github.com/parleybot/parley/internal/parley/config"
	"github.com/parleybot/parley/internal/parley/llm"
)

func main() {
	_ = godotenv.Load()

	resume := flag.String("resume", "", "resume the session with this id")
	list := flag.Bool("list", false, "list stored sessions and exit")
	report := flag.Bool("report", false, "print accumulated token usage and exit")
	flag.Parse()

	// Keep the terminal clean; warnings and errors only.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	apiKey, err := environment.RequiredString("PARLEY_API_KEY")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	profile := config.Default()
	if path := environment.StringOr("PARLEY_PROFILE", ""); path != "" {
		profile, err = config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	manager, err := app.New(app.Config{
		Profile:    profile,
		Credential: llm.NewCredential(apiKey),
		BaseURL:    environment.StringOr("PARLEY_API_BASE", ""),
		DBPath:     environment.StringOr("PARLEY_DB", "./parley.db"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *list:
		listSessions(ctx, manager)
	case *report:
		printReport(ctx, manager)
	default:
		runChat(ctx, manager, profile, *resume)
	}
}

func listSessions(ctx context.Context, manager *app.Manager) {
	summaries, err := manager.ListSessions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, s := range summaries {
		fmt.Printf("%s  %-8s  %s  %s\n", s.ID, s.Status, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Title)
	}
}

func printReport(ctx context.Context, manager *app.Manager) {
	totals, err := manager.UsageTotals(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(totals) == 0 {
		fmt.Println("No recorded usage.")
		return
	}
	fmt.Printf("%-26s %12s %12s %10s\n", "Model", "Input", "Output", "Cost ($)")
	for _, t := range totals {
		fmt.Printf("%-26s %12d %12d %10.4f\n", t.Model, t.InputTokens, t.OutputTokens, t.CostInput+t.CostOutput)
	}
	fmt.Println("\nCosts are estimates based on published list prices.")
}

func runChat(ctx context.Context, manager *app.Manager, profile config.Profile, resume string) {
	var (
		sess *chat.Session
		err  error
	)
	if resume != "" {
		sess, err = manager.LoadSession(ctx, resume)
	} else {
		sess, err = manager.CreateSession(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s> %s\n\n", profile.AssistantName, manager.Greeting())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Printf("%s> ", profile.UserName)
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "/quit" || question == "/exit" {
			break
		}
		if question == "/archive" {
			if err := manager.ArchiveSession(ctx, sess.ID()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println("Session archived.")
			break
		}

		reply, err := sess.Submit(ctx, question)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Fprintf(os.Stderr, "%s\n\n", err)
			continue
		}
		fmt.Printf("%s> %s\n\n", profile.AssistantName, reply)
	}

	// Every completed turn is already persisted; quitting without
	// archiving leaves the session resumable with -resume.
	fmt.Printf("\nLeaving chat. Resume with: parley -resume %s\n", sess.ID())
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"sautai-client/internal/api"
	"sautai-client/internal/assistant"
	"sautai-client/internal/chat"
	"sautai-client/internal/config"
	"sautai-client/internal/history"
	"sautai-client/internal/notify"
	"sautai-client/internal/session"
	"sautai-client/internal/storage"
)

const usage = `sautai - command line client for the sautAI assistant

Usage:
  sautai login <username> <password>
  sautai logout
  sautai whoami
  sautai chat [thread_id]     interactive chat, /new starts over, /quit exits
  sautai summary [YYYY-MM-DD]
  sautai pantry [page]
  sautai plans [week_start_date]
  sautai threads [page]`

type app struct {
	cfg       *config.Config
	manager   *session.Manager
	api       *api.Client
	assistant *assistant.Client
	bus       *notify.Bus
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := session.NewFileStorage(cfg.TokenFilePath)
	if err != nil {
		return nil, err
	}
	bus := notify.NewBus()
	m, err := session.NewManager(session.Options{
		BaseURL:        cfg.BaseURL(),
		Storage:        store,
		Key:            cfg.TokenKey,
		CookieMode:     cfg.UseRefreshCookie,
		Threshold:      cfg.RefreshThreshold,
		RefreshTimeout: cfg.RefreshTimeout,
		OnExpired: func(error) {
			bus.Info("Your session has expired, please log in again.")
		},
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		manager:   m,
		api:       api.NewClient(api.Options{BaseURL: cfg.BaseURL(), Session: m, Notify: bus, Timeout: cfg.HTTPTimeout}),
		assistant: assistant.NewClient(cfg.BaseURL(), m.NewClient(0), nil),
		bus:       bus,
	}, nil
}

// printToasts writes toasts to stderr until the returned function is called.
func (a *app) printToasts() func() {
	ch, unsubscribe := a.bus.Subscribe(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for t := range ch {
			prefix := "ℹ️"
			switch t.Tone {
			case notify.ToneError:
				prefix = "⚠️"
			case notify.ToneSuccess:
				prefix = "✅"
			}
			fmt.Fprintf(os.Stderr, "%s %s\n", prefix, t.Text)
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func (a *app) requireLogin() bool {
	if a.manager.HasSession() {
		return true
	}
	fmt.Fprintln(os.Stderr, "Not logged in. Run `sautai login <username> <password>` first.")
	return false
}

func pageArg(args []string) int {
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func (a *app) run(ctx context.Context, cmd string, args []string) int {
	switch cmd {
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		u, err := a.api.Login(ctx, args[0], args[1])
		if err != nil {
			return 1
		}
		fmt.Printf("Logged in as %s.\n", u.Username)
	case "logout":
		if err := a.api.Logout(ctx); err != nil {
			log.Printf("logout: %v", err)
		}
		fmt.Println("Logged out.")
	case "whoami":
		if !a.requireLogin() {
			return 1
		}
		u, err := a.api.UserDetails(ctx)
		if err != nil {
			return 1
		}
		fmt.Printf("%s <%s> (%s)\n", u.Username, u.Email, u.Role())
	case "chat":
		return a.chat(ctx, args)
	case "summary":
		if !a.requireLogin() {
			return 1
		}
		date := ""
		if len(args) > 0 {
			date = args[0]
		}
		st := a.assistant.Summary(ctx, date)
		defer st.Close()
		var text string
		for st.Next() {
			if ev := st.Event(); ev.IsText() {
				merged := history.MergeDelta(text, ev.Text)
				if strings.HasPrefix(merged, text) {
					fmt.Print(merged[len(text):])
				} else {
					fmt.Print("\n" + merged)
				}
				text = merged
			}
		}
		fmt.Println()
		if err := st.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "summary failed: %v\n", err)
			return 1
		}
	case "pantry":
		if !a.requireLogin() {
			return 1
		}
		p, err := a.api.PantryItems(ctx, pageArg(args))
		if err != nil {
			return 1
		}
		fmt.Printf("Pantry, page %d of %d\n", p.Page, p.TotalPages)
		for _, it := range p.Items {
			fmt.Printf("  %-6d %-24s x%d %s\n", it.ID, it.ItemName, it.Quantity, it.ExpirationDate)
		}
	case "plans":
		if !a.requireLogin() {
			return 1
		}
		week := ""
		if len(args) > 0 {
			week = args[0]
		}
		p, err := a.api.MealPlans(ctx, week, 1)
		if err != nil {
			return 1
		}
		for _, mp := range p.Items {
			fmt.Printf("Plan %d: %s to %s approved=%v\n", mp.ID, mp.WeekStartDate, mp.WeekEndDate, mp.IsApproved)
			for _, m := range mp.Meals {
				fmt.Printf("  %-10s %-10s %s\n", m.Day, m.MealType, m.Meal.Name)
			}
		}
	case "threads":
		if !a.requireLogin() {
			return 1
		}
		p, err := a.api.ThreadHistory(ctx, pageArg(args))
		if err != nil {
			return 1
		}
		for _, t := range p.Items {
			fmt.Printf("  %-40s %s\n", t.Key(), t.Title)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	return 0
}

func (a *app) chat(ctx context.Context, args []string) int {
	var rec storage.Recorder
	if a.cfg.InteractionLogPath != "" {
		fr, err := storage.NewFileRecorder(a.cfg.InteractionLogPath)
		if err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			rec = fr
		}
	}
	ctrl := chat.New(chat.Options{
		Streamer: a.assistant,
		Recorder: rec,
		Notify:   a.bus,
		Guest:    !a.manager.HasSession(),
	})
	if len(args) > 0 && a.manager.HasSession() {
		msgs, err := a.api.ThreadMessages(ctx, args[0])
		if err != nil {
			return 1
		}
		if err := ctrl.Resume(args[0], msgs); err != nil {
			fmt.Fprintf(os.Stderr, "cannot resume: %v\n", err)
			return 1
		}
		fmt.Printf("Continuing conversation with %d messages.\n", len(msgs))
	}
	if !a.manager.HasSession() {
		fmt.Println("Chatting as guest. Log in to keep your history.")
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return 0
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return 0
		case "/new":
			ctrl.Reset()
			fmt.Println("Started a new conversation.")
			continue
		}
		ctrl.SetGuest(!a.manager.HasSession())

		var shown string
		_, err := ctrl.Send(ctx, line, func(u chat.Update) {
			if strings.HasPrefix(u.Content, shown) {
				fmt.Print(u.Content[len(shown):])
			} else {
				fmt.Print("\n" + u.Content)
			}
			shown = u.Content
		})
		fmt.Println()
		if err != nil && ctx.Err() != nil {
			return 130
		}
	}
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.New()
	if cfg.BaseURL() == "" {
		log.Fatal("❌ API_BASE_URL (or DJANGO_URL) is required")
	}
	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	stopToasts := a.printToasts()
	code := a.run(ctx, os.Args[1], os.Args[2:])
	stopToasts()
	stop()
	os.Exit(code)
}

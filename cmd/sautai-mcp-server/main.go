package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sautai-client/internal/api"
	"sautai-client/internal/assistant"
	"sautai-client/internal/config"
	"sautai-client/internal/history"
	"sautai-client/internal/session"
	"sautai-client/internal/sse"
)

// AskParams параметры вопроса ассистенту
type AskParams struct {
	Message  string `json:"message" mcp:"the message to send to the sautAI assistant"`
	ThreadID string `json:"thread_id,omitempty" mcp:"thread id returned by a previous answer, to continue that conversation"`
}

type SummaryParams struct {
	Date string `json:"date,omitempty" mcp:"day to summarise as YYYY-MM-DD (default: today)"`
}

type PageParams struct {
	Page int `json:"page,omitempty" mcp:"page number starting at 1 (default: 1)"`
}

type AddPantryItemParams struct {
	ItemName       string `json:"item_name" mcp:"name of the pantry item"`
	Quantity       int    `json:"quantity,omitempty" mcp:"how many units (default: 1)"`
	ExpirationDate string `json:"expiration_date,omitempty" mcp:"expiration date as YYYY-MM-DD"`
	ItemType       string `json:"item_type,omitempty" mcp:"item type, e.g. Canned or Dry"`
}

type MealPlansParams struct {
	WeekStartDate string `json:"week_start_date,omitempty" mcp:"only plans for the week starting on this date (YYYY-MM-DD)"`
	Page          int    `json:"page,omitempty" mcp:"page number starting at 1 (default: 1)"`
}

// SautaiMCPServer exposes a logged-in sautAI session as MCP tools.
type SautaiMCPServer struct {
	manager   *session.Manager
	api       *api.Client
	assistant *assistant.Client
}

func NewSautaiMCPServer(cfg *config.Config) (*SautaiMCPServer, error) {
	store, err := session.NewFileStorage(cfg.TokenFilePath)
	if err != nil {
		return nil, fmt.Errorf("token storage: %w", err)
	}
	m, err := session.NewManager(session.Options{
		BaseURL:        cfg.BaseURL(),
		Storage:        store,
		Key:            cfg.TokenKey,
		CookieMode:     cfg.UseRefreshCookie,
		Threshold:      cfg.RefreshThreshold,
		RefreshTimeout: cfg.RefreshTimeout,
		OnExpired: func(err error) {
			log.Printf("🔒 session cleared: %v", err)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SautaiMCPServer{
		manager:   m,
		api:       api.NewClient(api.Options{BaseURL: cfg.BaseURL(), Session: m, Timeout: cfg.HTTPTimeout}),
		assistant: assistant.NewClient(cfg.BaseURL(), m.NewClient(0), nil),
	}, nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "❌ " + fmt.Sprintf(format, args...)}},
	}
}

func (s *SautaiMCPServer) loginRequired() *mcp.CallToolResultFor[any] {
	if s.manager.HasSession() {
		return nil
	}
	return errorResult("not logged in; run `sautai login` first")
}

// drain reads a stream to the end and returns the merged text and the
// thread id announced by the server.
func drain(st *assistant.Stream) (text, threadID string, err error) {
	defer st.Close()
	for st.Next() {
		ev := st.Event()
		switch {
		case ev.Type == sse.TypeCreated:
			threadID = ev.ID
		case ev.IsText():
			text = history.MergeDelta(text, ev.Text)
		case ev.Type == sse.TypeError && ev.Message != "":
			log.Printf("⚠️ assistant reported: %s", ev.Message)
		}
	}
	return text, threadID, st.Err()
}

// AskAssistant отправляет сообщение ассистенту и возвращает полный ответ
func (s *SautaiMCPServer) AskAssistant(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[AskParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if strings.TrimSpace(args.Message) == "" {
		return errorResult("message is required"), nil
	}
	guest := !s.manager.HasSession()
	log.Printf("💬 MCP Server: asking assistant (guest=%v, thread=%q)", guest, args.ThreadID)

	st := s.assistant.Stream(ctx, assistant.Request{Message: args.Message, ThreadID: args.ThreadID, Guest: guest})
	text, threadID, err := drain(st)
	if err != nil {
		return errorResult("assistant stream failed: %v", err), nil
	}
	if threadID == "" {
		threadID = args.ThreadID
	}
	res := textResult(text)
	res.Meta = map[string]interface{}{
		"thread_id": threadID,
		"guest":     guest,
	}
	return res, nil
}

func (s *SautaiMCPServer) DailySummary(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[SummaryParams]) (*mcp.CallToolResultFor[any], error) {
	if res := s.loginRequired(); res != nil {
		return res, nil
	}
	text, _, err := drain(s.assistant.Summary(ctx, params.Arguments.Date))
	if err != nil {
		return errorResult("summary failed: %v", err), nil
	}
	if text == "" {
		text = "No summary available."
	}
	return textResult(text), nil
}

func (s *SautaiMCPServer) ListPantry(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[PageParams]) (*mcp.CallToolResultFor[any], error) {
	if res := s.loginRequired(); res != nil {
		return res, nil
	}
	p, err := s.api.PantryItems(ctx, params.Arguments.Page)
	if err != nil {
		return errorResult("%s", api.Message(err)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pantry page %d of %d (%d items total)\n", p.Page, p.TotalPages, p.Count)
	for _, it := range p.Items {
		fmt.Fprintf(&b, "- [%d] %s x%d", it.ID, it.ItemName, it.Quantity)
		if it.ExpirationDate != "" {
			fmt.Fprintf(&b, " (expires %s)", it.ExpirationDate)
		}
		b.WriteString("\n")
	}
	res := textResult(b.String())
	res.Meta = map[string]interface{}{"has_next": p.HasNext()}
	return res, nil
}

func (s *SautaiMCPServer) AddPantryItem(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[AddPantryItemParams]) (*mcp.CallToolResultFor[any], error) {
	if res := s.loginRequired(); res != nil {
		return res, nil
	}
	args := params.Arguments
	if strings.TrimSpace(args.ItemName) == "" {
		return errorResult("item_name is required"), nil
	}
	if args.Quantity <= 0 {
		args.Quantity = 1
	}
	item, err := s.api.CreatePantryItem(ctx, api.PantryItem{
		ItemName:       args.ItemName,
		Quantity:       args.Quantity,
		ExpirationDate: args.ExpirationDate,
		ItemType:       args.ItemType,
	})
	if err != nil {
		return errorResult("%s", api.Message(err)), nil
	}
	res := textResult(fmt.Sprintf("✅ Added %s x%d to the pantry", item.ItemName, item.Quantity))
	res.Meta = map[string]interface{}{"id": item.ID}
	return res, nil
}

func (s *SautaiMCPServer) ListMealPlans(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[MealPlansParams]) (*mcp.CallToolResultFor[any], error) {
	if res := s.loginRequired(); res != nil {
		return res, nil
	}
	args := params.Arguments
	p, err := s.api.MealPlans(ctx, args.WeekStartDate, args.Page)
	if err != nil {
		return errorResult("%s", api.Message(err)), nil
	}
	if len(p.Items) == 0 {
		return textResult("No meal plans found."), nil
	}
	var b strings.Builder
	for _, mp := range p.Items {
		status := "draft"
		if mp.IsApproved {
			status = "approved"
		}
		fmt.Fprintf(&b, "Plan %d: %s to %s (%s)\n", mp.ID, mp.WeekStartDate, mp.WeekEndDate, status)
		for _, m := range mp.Meals {
			fmt.Fprintf(&b, "  %s %s: %s\n", m.Day, m.MealType, m.Meal.Name)
		}
	}
	return textResult(b.String()), nil
}

func (s *SautaiMCPServer) ListThreads(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[PageParams]) (*mcp.CallToolResultFor[any], error) {
	if res := s.loginRequired(); res != nil {
		return res, nil
	}
	p, err := s.api.ThreadHistory(ctx, params.Arguments.Page)
	if err != nil {
		return errorResult("%s", api.Message(err)), nil
	}
	if len(p.Items) == 0 {
		return textResult("No conversations yet."), nil
	}
	var b strings.Builder
	for _, t := range p.Items {
		fmt.Fprintf(&b, "- %s: %s\n", t.Key(), t.Title)
	}
	return textResult(b.String()), nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()
	if cfg.BaseURL() == "" {
		log.Fatal("❌ API_BASE_URL (or DJANGO_URL) environment variable is required")
	}

	log.Printf("🚀 Starting sautAI MCP Server against %s", cfg.BaseURL())

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "sautai-mcp",
		Version: "1.0.0",
	}, nil)

	sautai, err := NewSautaiMCPServer(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to init session: %v", err)
	}
	if !sautai.manager.HasSession() {
		log.Printf("⚠️ No stored session, only ask_assistant (as guest) will work")
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_assistant",
		Description: "Sends a message to the sautAI assistant and returns its complete reply",
	}, sautai.AskAssistant)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "daily_summary",
		Description: "Returns the user's daily summary for a date",
	}, sautai.DailySummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_pantry",
		Description: "Lists the items in the user's pantry, one page at a time",
	}, sautai.ListPantry)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_pantry_item",
		Description: "Adds an item to the user's pantry",
	}, sautai.AddPantryItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_meal_plans",
		Description: "Lists the user's meal plans with their meals",
	}, sautai.ListMealPlans)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_threads",
		Description: "Lists previous assistant conversations",
	}, sautai.ListThreads)

	log.Printf("📋 Registered %d tools: ask_assistant, daily_summary, list_pantry, add_pantry_item, list_meal_plans, list_threads", 6)
	if cfg.MCPHTTPAddr != "" {
		serveHTTP(server, cfg.MCPHTTPAddr)
		return
	}

	log.Printf("🔗 Starting server on stdin/stdout...")

	transport := mcp.NewStdioTransport()
	if err := server.Run(context.Background(), transport); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}

func serveHTTP(server *mcp.Server, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return server }))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("sautAI MCP server is running"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()
	log.Printf("🌐 sautAI SSE MCP server listening on %s/mcp", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	log.Println("🔌 sautAI MCP server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
	}
}

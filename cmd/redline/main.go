package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"redline-cli/internal/api"
	"redline-cli/internal/auth"
	"redline-cli/internal/config"
	"redline-cli/internal/core"
	"redline-cli/internal/notify"
	"redline-cli/internal/store"
)

type app struct {
	cfg     config.Config
	session *auth.Session
	docs    *core.DocumentService
	chat    *core.ChatOrchestrator
	cache   *store.Cache
	tokens  tokenFile
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log.SetFlags(log.LstdFlags)
	cfg := config.LoadConfig()

	if err := os.MkdirAll(filepath.Dir(cfg.CacheDBPath), 0o755); err != nil {
		log.Printf("Failed to create data directory: %v", err)
	}
	cache, err := store.NewCache(cfg.CacheDBPath)
	if err != nil {
		log.Printf("Local cache unavailable: %v", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	session := auth.NewSession(nil)
	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, session)
	session.SetClient(client)

	tokens := tokenFile{Path: cfg.TokenPath}
	if stored, err := tokens.Load(); err != nil {
		log.Printf("Failed to read token file: %v", err)
	} else if stored.Token != "" {
		session.Restore(stored.Token, stored.Username)
	}
	// Route-guard consumer: any transition to unauthenticated drops the
	// persisted token immediately.
	session.OnChange(func(authenticated bool) {
		if !authenticated {
			if err := tokens.Remove(); err != nil {
				log.Printf("Failed to remove token file: %v", err)
			}
		}
	})

	toasts := notify.NewBus()
	toasts.Subscribe(func(t notify.Toast) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", t.Severity, t.Message)
	})

	var docCache core.DocumentCache
	var chatCache core.ChatCache
	if cache != nil {
		docCache = cache
		chatCache = cache
	}

	a := &app{
		cfg:     cfg,
		session: session,
		docs:    core.NewDocumentService(client, toasts, docCache),
		chat:    core.NewChatOrchestrator(client, toasts, chatCache, cfg.ChatTopK),
		cache:   cache,
		tokens:  tokens,
	}

	ctx := context.Background()
	cmd := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	switch cmd {
	case "login":
		a.runLogin(ctx, args)
	case "register":
		a.runRegister(ctx, args)
	case "logout":
		a.session.Logout()
		fmt.Println("Logged out.")
	case "docs":
		a.requireAuth()
		a.runDocs(ctx)
	case "upload":
		a.requireAuth()
		a.runUpload(ctx, args)
	case "analyze":
		a.requireAuth()
		a.runAnalyze(ctx, args)
	case "clauses":
		a.requireAuth()
		a.runClauses(ctx, args)
	case "delete":
		a.requireAuth()
		a.runDelete(ctx, args)
	case "export":
		a.requireAuth()
		a.runExport(ctx, args)
	case "stats":
		a.requireAuth()
		a.runStats(ctx)
	case "pdf":
		a.requireAuth()
		a.runPDF(ctx, args)
	case "sessions":
		a.requireAuth()
		a.runSessions(ctx, args)
	case "chat":
		a.requireAuth()
		a.runChat(ctx, args)
	case "history":
		a.runHistory(args)
	case "help", "-h", "--help":
		usage()
	default:
		fatalf("unknown command %q", cmd)
	}
}

func (a *app) requireAuth() {
	if !a.session.IsAuthenticated() {
		fatalf("not logged in: run 'redline login' first")
	}
}

// guard inspects a failed call and forces logout when the backend rejected
// the token mid-session.
func (a *app) guard(err error) {
	if a.session.HandleAuthError(err) {
		fatalf("session expired, please log in again")
	}
}

func (a *app) runLogin(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("user", "", "username")
	password := fs.String("pass", "", "password")
	mustParse(fs, args)

	if err := a.session.Login(ctx, *username, *password); err != nil {
		fatalf("login failed: %v", err)
	}
	if err := a.tokens.Save(storedToken{Token: a.session.Token(), Username: a.session.Username()}); err != nil {
		log.Printf("Failed to persist token: %v", err)
	}
	fmt.Printf("Logged in as %s.\n", a.session.Username())
}

func (a *app) runRegister(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("user", "", "username")
	password := fs.String("pass", "", "password")
	confirm := fs.String("confirm", "", "password confirmation")
	mustParse(fs, args)

	if err := a.session.Register(ctx, *username, *password, *confirm); err != nil {
		fatalf("registration failed: %v", err)
	}
	fmt.Println("Account created. Log in to continue.")
}

func (a *app) runDocs(ctx context.Context) {
	docs, err := a.docs.Refresh(ctx)
	if err != nil {
		a.guard(err)
		fatalf("failed to list documents: %v", err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents uploaded yet.")
		return
	}
	for _, doc := range docs {
		status := "not analyzed"
		if doc.IsAnalyzed {
			status = fmt.Sprintf("analyzed, %d clauses", doc.ClauseCount)
		}
		fmt.Printf("%s  %-30s %3d pages  %s\n", doc.ID, doc.Filename, doc.PageCount, status)
	}
}

func (a *app) runUpload(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	path := fs.String("file", "", "path to a PDF file")
	mustParse(fs, args)
	if *path == "" {
		fatalf("upload requires -file")
	}

	f, err := os.Open(*path)
	if err != nil {
		fatalf("failed to open %s: %v", *path, err)
	}
	defer f.Close()

	doc, err := a.docs.Upload(ctx, filepath.Base(*path), f)
	if err != nil {
		a.guard(err)
		fatalf("upload failed: %v", err)
	}
	fmt.Printf("Uploaded %s as document %s.\n", doc.Filename, doc.ID)
}

func (a *app) runAnalyze(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	docID := fs.String("doc", "", "document id")
	mustParse(fs, args)
	if *docID == "" {
		fatalf("analyze requires -doc")
	}

	if _, _, err := a.docs.Open(ctx, *docID); err != nil {
		a.guard(err)
		fatalf("failed to load document: %v", err)
	}
	fmt.Println("Analyzing... this can take a while.")
	clauses, err := a.docs.Analyze(ctx, *docID)
	if err != nil {
		a.guard(err)
		fatalf("analysis failed: %v", err)
	}
	fmt.Printf("Classified %d clauses.\n", len(clauses))
}

func (a *app) runClauses(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("clauses", flag.ExitOnError)
	docID := fs.String("doc", "", "document id")
	clauseType := fs.String("type", core.FilterAll, "clause type filter")
	risk := fs.String("risk", core.FilterAll, "risk level filter")
	search := fs.String("search", "", "substring search over title and text")
	mustParse(fs, args)
	if *docID == "" {
		fatalf("clauses requires -doc")
	}

	_, clauses, err := a.docs.Open(ctx, *docID)
	if err != nil {
		a.guard(err)
		fatalf("failed to load clauses: %v", err)
	}

	criteria := core.FilterCriteria{Type: *clauseType, Risk: *risk, Search: *search}
	filtered := core.FilterClauses(clauses, criteria)
	fmt.Printf("%d of %d clauses match.\n\n", len(filtered), len(clauses))
	for _, clause := range filtered {
		fmt.Printf("p.%d  [%s/%s]  %s\n", clause.Page, clause.ClauseType, clause.RiskLevel, clause.SectionTitle)
		if clause.RiskReason != "" {
			fmt.Printf("      %s\n", clause.RiskReason)
		}
	}
}

func (a *app) runDelete(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	docID := fs.String("doc", "", "document id")
	mustParse(fs, args)
	if *docID == "" {
		fatalf("delete requires -doc")
	}
	if err := a.docs.Delete(ctx, *docID); err != nil {
		a.guard(err)
		fatalf("delete failed: %v", err)
	}
}

func (a *app) runExport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	docID := fs.String("doc", "", "document id")
	out := fs.String("out", "", "output file (default: stdout)")
	mustParse(fs, args)
	if *docID == "" {
		fatalf("export requires -doc")
	}

	report, err := a.docs.Export(ctx, *docID)
	if err != nil {
		a.guard(err)
		fatalf("export failed: %v", err)
	}
	if *out == "" {
		fmt.Println(string(report))
		return
	}
	if err := os.WriteFile(*out, report, 0o644); err != nil {
		fatalf("failed to write report: %v", err)
	}
	fmt.Printf("Report written to %s.\n", *out)
}

func (a *app) runStats(ctx context.Context) {
	stats, err := a.docs.Stats(ctx)
	if err != nil {
		a.guard(err)
		fatalf("failed to load stats: %v", err)
	}
	fmt.Printf("Documents: %d (%d analyzed)\n", stats.TotalDocuments, stats.AnalyzedDocuments)
	fmt.Printf("Clauses:   %d (%d analyzed)\n", stats.TotalClauses, stats.AnalyzedClauses)
	fmt.Printf("Risk:      High=%d Medium=%d Low=%d\n",
		stats.RiskDistribution[api.RiskHigh], stats.RiskDistribution[api.RiskMedium], stats.RiskDistribution[api.RiskLow])
	for _, c := range stats.TopRiskyClauses {
		fmt.Printf("  ! %s (%s, %s p.%d): %s\n", c.SectionTitle, c.ClauseType, c.DocFilename, c.Page, c.RiskReason)
	}
}

func (a *app) runPDF(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("pdf", flag.ExitOnError)
	docID := fs.String("doc", "", "document id")
	out := fs.String("out", "document.pdf", "output file")
	mustParse(fs, args)
	if *docID == "" {
		fatalf("pdf requires -doc")
	}

	data, err := a.docs.PDF(ctx, *docID)
	if err != nil {
		a.guard(err)
		fatalf("failed to download pdf: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fatalf("failed to write pdf: %v", err)
	}
	fmt.Printf("PDF written to %s (%d bytes).\n", *out, len(data))
}

func (a *app) runSessions(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	docID := fs.String("doc", "", "scope to one document (default: global)")
	mustParse(fs, args)

	scope := scopeFor(*docID)
	sessions, err := a.chat.ListThreads(ctx, scope)
	if err != nil {
		a.guard(err)
		fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions for %s scope yet.\n", scope)
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s\n", s.ID, s.Title)
	}
}

func (a *app) runChat(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	docID := fs.String("doc", "", "scope to one document (default: global)")
	sessionID := fs.String("session", "", "resume a persisted session")
	mustParse(fs, args)

	scope := scopeFor(*docID)
	if *sessionID != "" {
		thread, err := a.chat.OpenThread(ctx, scope, *sessionID)
		if err != nil {
			a.guard(err)
			fatalf("failed to open session: %v", err)
		}
		for _, msg := range thread.Messages {
			printMessage(msg)
		}
	} else {
		a.chat.StartDraft(scope)
		fmt.Printf("New %s conversation. Type a question, or 'exit' to quit.\n", scope)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return
		}
		if line == "" {
			continue
		}

		if _, err := a.chat.Send(ctx, line); err != nil {
			a.guard(err)
			// The apology reply is already in the thread; keep the REPL
			// alive so the user can retry.
		}
		msgs := a.chat.Messages()
		if len(msgs) > 0 {
			printMessage(msgs[len(msgs)-1])
		}
	}
}

func (a *app) runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	sessionID := fs.String("session", "", "session id")
	mustParse(fs, args)
	if *sessionID == "" {
		fatalf("history requires -session")
	}
	if a.cache == nil {
		fatalf("local cache unavailable")
	}

	messages, err := a.cache.Messages(*sessionID)
	if err != nil {
		fatalf("failed to read cached history: %v", err)
	}
	if len(messages) == 0 {
		fmt.Println("No cached history for that session.")
		return
	}
	for _, msg := range messages {
		printMessage(msg)
	}
}

func scopeFor(docID string) core.Scope {
	if docID == "" {
		return core.GlobalScope()
	}
	return core.DocumentScope(docID)
}

func printMessage(msg api.ChatMessage) {
	switch msg.Role {
	case core.RoleUser:
		fmt.Printf("you: %s\n", msg.Content)
	default:
		fmt.Printf("redline: %s\n", msg.Content)
		if msg.Meta != nil {
			fmt.Printf("         risk=%s confidence=%.0f%% clauses=%d\n",
				msg.Meta.OverallRisk, msg.Meta.Confidence*100, len(msg.Meta.ReferencedClauses))
		}
	}
}

func mustParse(fs *flag.FlagSet, args []string) {
	_ = fs.Parse(args)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "redline: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Println(`redline - legal document review client

Usage: redline <command> [flags]

Auth:
  login    -user NAME -pass PASS        log in and persist the token
  register -user NAME -pass PASS -confirm PASS
  logout                                clear the persisted token

Documents:
  docs                                  list documents
  upload   -file PATH                   upload a PDF
  analyze  -doc ID                      classify clauses and score risk
  clauses  -doc ID [-type T] [-risk R] [-search S]
  delete   -doc ID
  export   -doc ID [-out FILE]          JSON analysis report
  stats                                 aggregate risk statistics
  pdf      -doc ID [-out FILE]          download the original PDF

Chat:
  sessions [-doc ID]                    list persisted sessions
  chat     [-doc ID] [-session ID]      interactive conversation
  history  -session ID                  cached history, works offline`)
}

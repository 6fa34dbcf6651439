package bot

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"newsbot/internal/logger"
	"newsbot/internal/model"
	"newsbot/internal/scheduler"
	"newsbot/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID string
	Text   string
}

type mockNotifier struct {
	mu       sync.Mutex
	sent     []sentMsg
	files    []string
	fileBody []byte
	canPost  bool
}

func (m *mockNotifier) SendMessage(_ context.Context, chatID, text string, _ bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMsg{ChatID: chatID, Text: text})
	return true
}

func (m *mockNotifier) SendFile(_ context.Context, chatID, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := os.ReadFile(path) //nolint:gosec // test-only
	if err != nil {
		return false
	}
	m.files = append(m.files, chatID)
	m.fileBody = data
	return true
}

func (m *mockNotifier) CanPost(context.Context, string) bool { return m.canPost }

func (m *mockNotifier) FileURL(fileID string) (string, error) {
	return "https://files.example.com/" + fileID, nil
}

func (m *mockNotifier) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockNotifier) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockScheduler struct {
	mu       sync.Mutex
	status   scheduler.Status
	starts   int
	stops    int
	wakes    int
	sources  []string
	startErr error
}

func (m *mockScheduler) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.starts++
	m.status.Running = true
	return nil
}

func (m *mockScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.status.Running = false
}

func (m *mockScheduler) SetInterval(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Interval = d
	return nil
}

func (m *mockScheduler) SkipSource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.SourceIndex = (m.status.SourceIndex + 1) % len(m.sources)
	return m.sources[m.status.SourceIndex]
}

func (m *mockScheduler) WakeNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakes++
}

func (m *mockScheduler) Status() scheduler.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

type mockDiag struct {
	resp model.LLMResponse
	ok   bool
}

func (m *mockDiag) LastResponse() (model.LLMResponse, bool) { return m.resp, m.ok }

type mockHTTPClient struct {
	body []byte
}

func (m *mockHTTPClient) Do(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(m.body)),
	}, nil
}

// --- helpers ---

type testEnv struct {
	bot    *Bot
	store  *storage.SQLite
	notify *mockNotifier
	sched  *mockScheduler
	diag   *mockDiag
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:  store,
		notify: &mockNotifier{canPost: true},
		sched: &mockScheduler{
			status:  scheduler.Status{Interval: time.Hour, SourceCount: 3},
			sources: []string{"https://a.example.com/rss", "https://b.example.com/rss", "https://c.example.com/rss"},
		},
		diag: &mockDiag{},
	}
	env.bot = New(store, env.sched, env.notify, env.diag, logger.Discard())
	return env
}

func (e *testEnv) send(user, text string) string {
	e.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 100},
		From: &tgbotapi.User{ID: 1, UserName: user},
		Text: text,
	}})
	return e.notify.lastText()
}

func (e *testEnv) bind(t *testing.T, channel, user string) {
	t.Helper()
	if err := e.store.SaveChannel(context.Background(), channel, user); err != nil {
		t.Fatalf("save channel: %v", err)
	}
}

// --- tests ---

func TestStartAndBind(t *testing.T) {
	env := newTestEnv(t)

	if got := env.send("alice", "/start"); !strings.Contains(got, "Send the channel") {
		t.Errorf("/start for new user: %q", got)
	}

	env.notify.canPost = false
	if got := env.send("alice", "@technews"); !strings.Contains(got, "not an administrator") {
		t.Errorf("bind without rights: %q", got)
	}

	env.notify.canPost = true
	if got := env.send("alice", "@technews"); !strings.Contains(got, "Channel @technews bound") {
		t.Errorf("bind: %q", got)
	}

	creator, err := env.store.ChannelCreator(context.Background(), "@technews")
	if err != nil {
		t.Fatalf("channel creator: %v", err)
	}
	if diff := cmp.Diff("alice", creator); diff != "" {
		t.Errorf("creator mismatch (-want +got):\n%s", diff)
	}

	if got := env.send("alice", "/start"); !strings.Contains(got, "already an admin of @technews") {
		t.Errorf("/start for admin: %q", got)
	}
	if got := env.send("mallory", "@technews"); !strings.Contains(got, "already bound") {
		t.Errorf("bind taken channel: %q", got)
	}
	if got := env.send("bob", "-1009876543210"); !strings.Contains(got, "Channel -1009876543210 bound") {
		t.Errorf("second tenant bind: %q", got)
	}
}

func TestRequiresUsername(t *testing.T) {
	env := newTestEnv(t)
	if got := env.send("", "/info"); !strings.Contains(got, "no username") {
		t.Errorf("reply = %q", got)
	}
}

func TestNonAdminIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")

	for _, cmd := range []string{"/startposting", "/info", "/feedcacheclear", "/addadmin bob", "/sqlitebackup"} {
		if got := env.send("mallory", cmd); got != notAdminText {
			t.Errorf("%s by non-admin: %q", cmd, got)
		}
	}
	if env.sched.starts != 0 {
		t.Error("scheduler started by non-admin")
	}
}

func TestHelpIsPublic(t *testing.T) {
	env := newTestEnv(t)
	if got := env.send("anyone", "/help"); !strings.Contains(got, "/setinterval <time>") {
		t.Errorf("help reply = %q", got)
	}
}

func TestPostingCommands(t *testing.T) {
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")

	if got := env.send("alice", "/nextpost"); !strings.Contains(got, "not active") {
		t.Errorf("/nextpost while stopped: %q", got)
	}

	if got := env.send("alice", "/startposting"); got != "Posting started in @technews" {
		t.Errorf("/startposting: %q", got)
	}
	if got := env.send("alice", "/startposting"); !strings.Contains(got, "already running") {
		t.Errorf("second /startposting: %q", got)
	}

	if got := env.send("alice", "/setinterval 2h 30m"); got != "Posting interval set to 2h 30m" {
		t.Errorf("/setinterval: %q", got)
	}
	if diff := cmp.Diff(9000*time.Second, env.sched.Status().Interval); diff != "" {
		t.Errorf("interval mismatch (-want +got):\n%s", diff)
	}
	if got := env.send("alice", "/setinterval 3000000h"); got != "Posting interval set to 2562047h 47m" {
		t.Errorf("/setinterval huge: %q", got)
	}
	if diff := cmp.Diff(time.Duration(maxIntervalSeconds)*time.Second, env.sched.Status().Interval); diff != "" {
		t.Errorf("huge interval mismatch (-want +got):\n%s", diff)
	}
	if got := env.send("alice", "/setinterval 0h0m"); !strings.Contains(got, "Invalid format") {
		t.Errorf("/setinterval invalid: %q", got)
	}

	if got := env.send("alice", "/nextpost"); !strings.Contains(got, "Timer reset") {
		t.Errorf("/nextpost: %q", got)
	}
	if env.sched.wakes != 1 {
		t.Errorf("wakes = %d, want 1", env.sched.wakes)
	}

	if got := env.send("alice", "/skiprss"); got != "RSS source skipped. Current source: https://b.example.com/rss" {
		t.Errorf("/skiprss: %q", got)
	}

	if got := env.send("alice", "/stopposting"); got != "Posting stopped" {
		t.Errorf("/stopposting: %q", got)
	}
	// Skipping works while stopped.
	if got := env.send("alice", "/skiprss"); !strings.Contains(got, "https://c.example.com/rss") {
		t.Errorf("/skiprss while stopped: %q", got)
	}
}

func TestConfigCommands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")

	env.send("alice", "/editprompt Summarize {url}\nin two sentences")
	prompt, err := env.store.Prompt(ctx)
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if diff := cmp.Diff("Summarize {url}\nin two sentences", prompt); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}

	if got := env.send("alice", "/changellm claude-3-5-haiku-latest"); got != "Model changed to: claude-3-5-haiku-latest" {
		t.Errorf("/changellm: %q", got)
	}
	m, _ := env.store.Model(ctx)
	if diff := cmp.Diff("claude-3-5-haiku-latest", m); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}

	if got := env.send("alice", "/errnotification maybe"); !strings.Contains(got, "Use:") {
		t.Errorf("/errnotification invalid: %q", got)
	}
	env.send("alice", "/errnotification ON")
	on, _ := env.store.ErrorNotifications(ctx)
	if !on {
		t.Error("error notifications should be on")
	}
}

func TestAdminCommands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")

	if got := env.send("alice", "/addadmin @bob"); got != "@bob added as an admin of @technews" {
		t.Errorf("/addadmin: %q", got)
	}
	if got := env.send("bob", "/removeadmin alice"); got != "The channel creator cannot be removed." {
		t.Errorf("/removeadmin creator: %q", got)
	}
	if got := env.send("bob", "/removeadmin @carol"); !strings.Contains(got, "not an admin") {
		t.Errorf("/removeadmin unknown: %q", got)
	}

	admins, _ := env.store.Admins(ctx, "@technews")
	if diff := cmp.Diff([]string{"alice", "bob"}, admins); diff != "" {
		t.Errorf("admins mismatch (-want +got):\n%s", diff)
	}

	if got := env.send("alice", "/removeadmin bob"); got != "@bob removed from the admins of @technews" {
		t.Errorf("/removeadmin: %q", got)
	}
	if got := env.send("bob", "/info"); got != notAdminText {
		t.Errorf("removed admin still has access: %q", got)
	}
}

func TestDiagnosticCommands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")

	if got := env.send("alice", "/errinf"); got != "No errors yet." {
		t.Errorf("/errinf empty: %q", got)
	}
	if err := env.store.InsertError(ctx, "fetch failed", "https://a.example.com/rss"); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if got := env.send("alice", "/errinf"); !strings.Contains(got, "fetch failed (link: https://a.example.com/rss)") {
		t.Errorf("/errinf: %q", got)
	}

	if got := env.send("alice", "/debug"); !strings.Contains(got, "No LLM responses yet") {
		t.Errorf("/debug empty: %q", got)
	}
	env.diag.resp = model.LLMResponse{Link: "https://example.com/a", Raw: "Title\nBody", ReceivedAt: time.Now()}
	env.diag.ok = true
	if got := env.send("alice", "/debug"); !strings.Contains(got, "Link: https://example.com/a") || !strings.HasSuffix(got, "Title\nBody") {
		t.Errorf("/debug: %q", got)
	}

	if got := env.send("alice", "/info"); !strings.Contains(got, "Admins: @alice") || !strings.Contains(got, "Posting: stopped") {
		t.Errorf("/info: %q", got)
	}
}

func TestFeedCacheCommands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")

	if got := env.send("alice", "/feedcache"); got != "Feed cache is empty" {
		t.Errorf("/feedcache empty: %q", got)
	}

	if err := env.store.SaveCacheEntry(ctx, &model.CacheEntry{
		ID:        storage.CacheKey("https://example.com/a"),
		Title:     "Title",
		Summary:   "Body",
		Link:      "https://example.com/a",
		Source:    "example.com",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("save cache entry: %v", err)
	}
	got := env.send("alice", "/feedcache")
	for _, want := range []string{`"link": "https://example.com/a"`, `"source": "example.com"`, `"timestamp": "2024-05-01T12:00:00Z"`} {
		if !strings.Contains(got, want) {
			t.Errorf("/feedcache missing %s:\n%s", want, got)
		}
	}

	env.send("alice", "/feedcacheclear")
	if n, _ := env.store.CountCache(ctx); n != 0 {
		t.Errorf("cache size after clear = %d", n)
	}
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")
	if err := env.store.SetConfig(ctx, model.ConfigModel, "gpt-4.1"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	if got := env.send("alice", "/sqlitebackup"); got != "Database exported" {
		t.Fatalf("/sqlitebackup: %q", got)
	}
	if len(env.notify.files) != 1 || len(env.notify.fileBody) == 0 {
		t.Fatalf("backup file not uploaded")
	}

	// Change state, then restore the backup over it.
	if err := env.store.SetConfig(ctx, model.ConfigModel, "gpt-4o-mini"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	env.bot.http = &mockHTTPClient{body: env.notify.fileBody}

	if got := env.send("alice", "/sqliteupdate"); got != restorePrompt {
		t.Fatalf("/sqliteupdate: %q", got)
	}

	reply := func(doc *tgbotapi.Document) string {
		env.bot.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			Chat:           &tgbotapi.Chat{ID: 100},
			From:           &tgbotapi.User{ID: 1, UserName: "alice"},
			ReplyToMessage: &tgbotapi.Message{Text: restorePrompt},
			Document:       doc,
		}})
		return env.notify.lastText()
	}

	if got := reply(nil); got != "Attach the database file." {
		t.Errorf("restore without file: %q", got)
	}
	if got := reply(&tgbotapi.Document{FileID: "f1", FileName: "other.db"}); !strings.Contains(got, "must be named feedcache.db") {
		t.Errorf("restore wrong name: %q", got)
	}
	if got := reply(&tgbotapi.Document{FileID: "f1", FileName: "feedcache.db"}); got != "Database restored" {
		t.Fatalf("restore: %q", got)
	}

	m, _ := env.store.Model(ctx)
	if diff := cmp.Diff("gpt-4.1", m); diff != "" {
		t.Errorf("model after restore (-want +got):\n%s", diff)
	}
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	env.bind(t, "@technews", "alice")
	if got := env.send("alice", "/frobnicate"); !strings.Contains(got, "Unknown command") {
		t.Errorf("reply = %q", got)
	}
	env.notify.reset()
	env.send("alice", "just chatting")
	if got := env.notify.lastText(); got != "" {
		t.Errorf("plain text should be ignored, got %q", got)
	}
}

func TestWebhookHandler(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.bot.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if diff := cmp.Diff("OK", string(body)); diff != "" {
		t.Errorf("ping body mismatch (-want +got):\n%s", diff)
	}

	update := `{"update_id":1,"message":{"message_id":5,"chat":{"id":100,"type":"private"},"from":{"id":1,"is_bot":false,"first_name":"A","username":"alice"},"date":0,"text":"/help"}}`
	resp, err = http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(update))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("webhook status = %d", resp.StatusCode)
	}
	if got := env.notify.lastText(); !strings.Contains(got, "Available commands") {
		t.Errorf("webhook reply = %q", got)
	}

	resp, err = http.Post(srv.URL+"/webhook", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("malformed update status = %d, want 200", resp.StatusCode)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"moddash/audit"
	"moddash/auth"
	"moddash/config"
	"moddash/crypto"
	"moddash/db"
	"moddash/service"
	"moddash/validate"
)

const (
	testUser     = "moderator"
	testPassword = "s3cret-pass-phrase"
)

type testEnv struct {
	server   *Server
	platform *sqlx.DB
	audit    *db.AuditStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	platform, err := db.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Open platform DB: %v", err)
	}
	t.Cleanup(func() { platform.Close() })
	if err := db.CreatePlatformSchema(platform); err != nil {
		t.Fatalf("CreatePlatformSchema: %v", err)
	}
	if _, err := platform.Exec(`
		INSERT INTO users (id, name, email) VALUES
			(2, 'alice', 'alice@example.com'),
			(3, 'bob', 'bob@example.com'),
			(4, '<b>eve</b>', 'eve@example.com');
		INSERT INTO reported_users (reporter_id, reported_id) VALUES (2, 3), (4, 3);
	`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dashboard, err := db.OpenDashboard(":memory:")
	if err != nil {
		t.Fatalf("OpenDashboard: %v", err)
	}
	t.Cleanup(func() { dashboard.Close() })
	store := db.NewAuditStore(dashboard)

	hash, err := crypto.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	creds, err := auth.LoadCredentials([]config.AdminAccount{{Username: testUser, PasswordHash: hash, Role: "admin"}}, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}

	logger := zap.NewNop()
	trail := audit.NewTrail(logger, []audit.Sink{store})
	signer := auth.NewTokenSigner([]byte("handler-test-signing-key"))
	v := validate.New(trail, logger)

	srv := New(Deps{
		AppName:        "moddash test",
		LoginRateLimit: 100,
		Logger:         logger,
		Authenticator:  auth.NewAuthenticator(creds, signer, trail, logger, auth.WithSleep(func(time.Duration) {})),
		Guard:          auth.NewGuard(signer, trail, logger),
		Sessions:       auth.NewCookieSessions("handler-test-secret", time.Hour, false),
		Users:          service.NewUserService(platform, trail, v, logger),
		Moderation:     service.NewModerationService(platform, trail, v, logger),
		Chat:           service.NewChatService(platform, trail, v, logger),
		Audit:          store,
	})
	return &testEnv{server: srv, platform: platform, audit: store}
}

func (e *testEnv) do(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func loginRequest(ip, username, password string, extra url.Values) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	for k, v := range extra {
		form[k] = v
	}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = ip + ":12345"
	return req
}

func (e *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rr := e.do(loginRequest("192.0.2.1", testUser, testPassword, nil), nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("Expected login redirect, got %d: %s", rr.Code, rr.Body.String())
	}
	return rr.Result().Cookies()
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest("GET", "/healthz", nil), nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
}

func TestIndexRedirects(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/", nil), nil)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Errorf("Expected redirect to /login, got %d %s", rr.Code, rr.Header().Get("Location"))
	}

	cookies := env.login(t)
	rr = env.do(httptest.NewRequest("GET", "/", nil), cookies)
	if rr.Header().Get("Location") != "/dashboard" {
		t.Errorf("Expected redirect to /dashboard, got %s", rr.Header().Get("Location"))
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/dashboard", nil), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for dashboard without session, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `name="password"`) {
		t.Error("Expected login prompt for protected page")
	}

	rr = env.do(loginRequest("192.0.2.1", testUser, "wrong-password", nil), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad password, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid username or password.") {
		t.Errorf("Expected error message, got %s", rr.Body.String())
	}

	cookies := env.login(t)
	rr = env.do(httptest.NewRequest("GET", "/dashboard", nil), cookies)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected dashboard, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, testUser) || !strings.Contains(body, "bob") {
		t.Errorf("Dashboard should show the admin and pending reports: %s", body)
	}

	entries, err := env.audit.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) == 0 || entries[0].Action != "LOGIN" || entries[0].Username != testUser {
		t.Errorf("Expected LOGIN audit entry, got %+v", entries)
	}
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(loginRequest("192.0.2.9", testUser, "", nil), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
}

func TestLoginPageLanguage(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/login", nil)
	req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9")
	rr := env.do(req, nil)
	if !strings.Contains(rr.Body.String(), "Inloggen als beheerder") {
		t.Errorf("Expected Dutch login page, got %s", rr.Body.String())
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	rr := env.do(httptest.NewRequest("POST", "/logout", nil), cookies)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Errorf("Expected redirect to /login, got %d", rr.Code)
	}
	cleared := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("Expected session cookie to be expired")
	}

	entries, _ := env.audit.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Action != "LOGOUT" || entries[0].Username != testUser {
		t.Errorf("Expected LOGOUT audit entry for %s, got %+v", testUser, entries)
	}
}

func TestCaptchaAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	ip := "198.51.100.7"

	for i := 0; i < captchaAfter; i++ {
		env.do(loginRequest(ip, testUser, "wrong", nil), nil)
	}

	req := httptest.NewRequest("GET", "/login", nil)
	req.RemoteAddr = ip + ":1"
	rr := env.do(req, nil)
	if !strings.Contains(rr.Body.String(), `name="captcha_id"`) {
		t.Error("Expected captcha on login page after repeated failures")
	}

	rr = env.do(loginRequest(ip, testUser, testPassword, nil), nil)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "solve the captcha") {
		t.Errorf("Expected captcha to be required, got %d", rr.Code)
	}

	rr = env.do(loginRequest(ip, testUser, testPassword, url.Values{"captcha_id": {"nope"}, "captcha_solution": {"123456"}}), nil)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "captcha solution was incorrect") {
		t.Errorf("Expected invalid captcha, got %d", rr.Code)
	}

	rr = env.do(loginRequest("198.51.100.8", testUser, testPassword, nil), nil)
	if rr.Code != http.StatusSeeOther {
		t.Errorf("Other IPs should not need a captcha, got %d", rr.Code)
	}
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/reports", "/api/users/2", "/api/audit"} {
		rr := env.do(httptest.NewRequest("GET", path, nil), nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
		}
		body := decode(t, rr)
		if body["status"] != "error" || body["message"] != "Authentication required" {
			t.Errorf("%s: expected authentication error, got %v", path, body)
		}
	}
}

func TestDashboardSurvivesReportFailure(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)
	if _, err := env.platform.Exec(`DROP TABLE reported_users`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	rr := env.do(httptest.NewRequest("GET", "/dashboard", nil), cookies)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Pending reports could not be loaded.") {
		t.Errorf("Expected report load failure notice: %s", body)
	}
	if !strings.Contains(body, "<td>LOGIN</td>") {
		t.Errorf("Audit log should still render: %s", body)
	}
}

func TestAPIGetUser(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/users/2", http.StatusOK},
		{"/api/users/abc", http.StatusBadRequest},
		{"/api/users/999", http.StatusNotFound},
		{"/api/reports/3/user", http.StatusOK},
	}
	for _, tt := range tests {
		rr := env.do(httptest.NewRequest("GET", tt.path, nil), cookies)
		if rr.Code != tt.status {
			t.Errorf("%s: expected %d, got %d (%s)", tt.path, tt.status, rr.Code, rr.Body.String())
		}
	}

	rr := env.do(httptest.NewRequest("GET", "/api/users/2", nil), cookies)
	data := decode(t, rr)["data"].(map[string]any)
	if data["username"] != "alice" {
		t.Errorf("Expected alice, got %v", data["username"])
	}
}

func TestAPISearchUsers(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	rr := env.do(httptest.NewRequest("GET", "/api/users/search?q=eve", nil), cookies)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	hits := decode(t, rr)["data"].([]any)
	if len(hits) != 1 {
		t.Fatalf("Expected one hit, got %v", hits)
	}
	if name := hits[0].(map[string]any)["username"]; name != "&lt;b&gt;eve&lt;/b&gt;" {
		t.Errorf("Expected escaped username, got %v", name)
	}

	rr = env.do(httptest.NewRequest("GET", "/api/users/search?q="+url.QueryEscape("a' OR 1=1 --"), nil), cookies)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected blocked query to be rejected, got %d", rr.Code)
	}
}

func TestAPIModeration(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(req, cookies)
	}

	if rr := post("/api/users/2/message", `{"message": "Please read the rules."}`); rr.Code != http.StatusOK {
		t.Errorf("Expected message to be sent, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := post("/api/users/2/message", `{"message": "<script>x</script>"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected script message to be rejected, got %d", rr.Code)
	}
	if rr := post("/api/users/2/message", `not json`); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected bad body to be rejected, got %d", rr.Code)
	}
	if rr := post("/api/users/3/ban", `{"reason": "spam"}`); rr.Code != http.StatusOK {
		t.Errorf("Expected ban to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := post("/api/users/3/ban", `{"reason": "spam"}`); rr.Code != http.StatusNotFound {
		t.Errorf("Expected second ban to miss, got %d", rr.Code)
	}

	rr := env.do(httptest.NewRequest("GET", "/api/audit?limit=50", nil), cookies)
	entries := decode(t, rr)["data"].([]any)
	seen := map[string]int{}
	for _, raw := range entries {
		e := raw.(map[string]any)
		if e["username"] != testUser {
			t.Errorf("Expected every entry to name %s, got %v", testUser, e["username"])
		}
		seen[e["action"].(string)]++
	}
	if seen["SEND_ADMIN_MESSAGE"] != 2 || seen["PERMANENT_BAN_USER"] != 2 || seen["SECURITY_BLOCKED_MESSAGE"] != 1 {
		t.Errorf("Unexpected audit trail: %v", seen)
	}
}

func TestUserLookupPage(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	rr := env.do(httptest.NewRequest("GET", "/users/lookup?type=username&value=alice", nil), cookies)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "alice@example.com") {
		t.Errorf("Expected alice's profile, got %d", rr.Code)
	}

	rr = env.do(httptest.NewRequest("GET", "/users/lookup?type=user_id&value=404", nil), cookies)
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "No user found with user id") {
		t.Errorf("Expected not-found message, got %d", rr.Code)
	}
}

func TestUserLookupBlockedValue(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	value := url.QueryEscape("alice'; DROP TABLE users --")
	rr := env.do(httptest.NewRequest("GET", "/users/lookup?type=username&value="+value, nil), cookies)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected blocked lookup to be rejected, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid search query") {
		t.Errorf("Expected validation message in page")
	}

	entries, err := env.audit.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var blocked, searches int
	for _, e := range entries {
		switch e.Action {
		case "SECURITY_BLOCKED_SEARCH":
			blocked++
			if e.Username != testUser {
				t.Errorf("Expected blocked search to name %s, got %s", testUser, e.Username)
			}
		case "USER_SEARCH":
			searches++
		}
	}
	if blocked != 1 || searches != 0 {
		t.Errorf("Expected one blocked search and no lookup, got blocked=%d searches=%d", blocked, searches)
	}
}

func TestUserLookupByEmail(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	rr := env.do(httptest.NewRequest("GET", "/users/lookup?type=email&value="+url.QueryEscape("bob@example.com"), nil), cookies)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "bob") {
		t.Errorf("Expected bob's profile, got %d", rr.Code)
	}
}

func TestLoginUsernameIsNotTrimmed(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{" " + testUser, testUser + " ", "Moderator"} {
		rr := env.do(loginRequest("192.0.2.40", name, testPassword, nil), nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Login as %q: expected 401, got %d", name, rr.Code)
		}
	}
}

func TestSaveSessionFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	srv := New(Deps{
		Logger:   zap.New(core),
		Sessions: auth.NewCookieSessions("handler-test-secret", time.Hour, false),
	})

	// The encoded cookie exceeds securecookie's 4096 byte limit.
	sess := &auth.Session{
		Authenticated: true,
		Username:      testUser,
		Role:          "admin",
		LoginTime:     time.Now(),
		Token:         strings.Repeat("t", 8192),
	}
	err := srv.saveSession(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), sess)
	if err == nil {
		t.Fatal("Expected oversized session to fail to save")
	}
	if n := logs.FilterMessage("Failed to save session").Len(); n != 1 {
		t.Errorf("Expected one logged failure, got %d", n)
	}
}

func TestAPIChatModeration(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)
	if _, err := env.platform.Exec(`
		INSERT INTO chat_meta (id, activity_name) VALUES (7, 'Tuesday Tennis');
		INSERT INTO messages (id, sender_id, chat_id, content, timestamp) VALUES (20, 3, 7, 'buy followers here', 1700000000);
		INSERT INTO ind_messages (content, timestamp, sender_id, ind_chat_id) VALUES ('cheap followers', 1700000100, 3, 2);
	`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := env.do(httptest.NewRequest("GET", "/api/messages/search?q=FOLLOWERS", nil), cookies)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	hits := decode(t, rr)["data"].([]any)
	if len(hits) != 2 || hits[0].(map[string]any)["type"] != "individual" || hits[1].(map[string]any)["chat_name"] != "Tuesday Tennis" {
		t.Errorf("Unexpected search hits: %v", hits)
	}

	rr = env.do(httptest.NewRequest("GET", "/api/messages/search?q=x", nil), cookies)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected short keyword to be rejected, got %d", rr.Code)
	}

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(req, cookies)
	}
	if rr := post("/api/messages/20/flag", `{"chat_type": "activity", "reason": "Selling followers"}`); rr.Code != http.StatusOK {
		t.Errorf("Expected flag to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := post("/api/messages/20/flag", `{"chat_type": "activity", "reason": "bad"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected short reason to be rejected, got %d", rr.Code)
	}

	var deleted bool
	if err := env.platform.Get(&deleted, "SELECT is_deleted FROM messages WHERE id = 20"); err != nil || !deleted {
		t.Errorf("Expected flagged message to be hidden, got %v (%v)", deleted, err)
	}

	entries, err := env.audit.Recent(context.Background(), 50)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	seen := map[string]int{}
	for _, e := range entries {
		seen[e.Action]++
	}
	if seen["FLAG_MESSAGE"] != 2 || seen["MESSAGE_FLAGGED"] != 1 {
		t.Errorf("Expected two flag attempts and one flag, got %v", seen)
	}

	rr = env.do(httptest.NewRequest("GET", "/api/chats/stats", nil), cookies)
	stats := decode(t, rr)["data"].(map[string]any)
	if stats["total_activity_chats"] != float64(1) || stats["total_activity_messages"] != float64(1) {
		t.Errorf("Unexpected chat stats: %v", stats)
	}
}

func TestAPISentFeedback(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)
	if _, err := env.platform.Exec(`
		INSERT INTO feedback (user_id, feedback, rating) VALUES (2, 'Great matches', 4), (3, 'Too many ads', 2);
	`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := env.do(httptest.NewRequest("GET", "/api/feedback", nil), cookies)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	all := decode(t, rr)["data"].([]any)
	if len(all) != 2 || all[0].(map[string]any)["user_name"] != "bob" {
		t.Errorf("Expected lowest rating first, got %v", all)
	}

	rr = env.do(httptest.NewRequest("GET", "/api/feedback?q=alice", nil), cookies)
	if got := decode(t, rr)["data"].([]any); len(got) != 1 {
		t.Errorf("Expected one match for alice, got %v", got)
	}

	rr = env.do(httptest.NewRequest("GET", "/api/feedback?q="+url.QueryEscape("1 UNION SELECT 1"), nil), cookies)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected blocked query to be rejected, got %d", rr.Code)
	}
}

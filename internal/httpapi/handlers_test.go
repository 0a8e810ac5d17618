package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callcoin-platform/internal/app"
	"callcoin-platform/internal/audit"
	"callcoin-platform/internal/auth"
	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/config"

	"github.com/gin-gonic/gin"
)

func testConfig() config.Config {
	return config.Config{
		App: config.AppConfig{Env: "local", Port: 8080, Store: config.StoreMemory},
		Auth: config.AuthConfig{
			JWTSecret:       "test-access-secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Signaling: config.SignalingConfig{Secret: "test-signaling-secret", TTL: time.Hour},
		Metering: config.MeteringConfig{
			TickInterval:   time.Minute,
			ConnectTimeout: 30 * time.Second,
			RingTimeout:    45 * time.Second,
			MissedTicks:    3,
			CatchUpGrace:   15 * time.Second,
		},
		Coins: config.CoinDefaults{
			AudioPerMinute: 10,
			VideoPerMinute: 20,
			ChatPerMessage: 5,
			ResponderPct:   70,
			MinRedeemCoins: 5,
			CoinValue:      "0.10",
			Currency:       "INR",
		},
	}
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
	app    *app.App
}

func newTestAPI(t *testing.T, devLogin bool) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, err := app.Build(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), app.Backends{})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	h := Handlers{
		Auth:      a.Auth,
		Accounts:  a.Accounts,
		Calls:     a.Calls,
		Chat:      a.Chat,
		Wallet:    a.Wallet,
		Pricing:   a.Pricing,
		Reporting: a.Reporting,
		Audit:     a.Audit,
		DevLogin:  devLogin,
	}
	r := gin.New()
	h.RegisterAuth(r)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.Auth))
	h.Register(v1)
	return &testAPI{t: t, router: r, app: a}
}

func (api *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	api.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			api.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

func (api *testAPI) expect(w *httptest.ResponseRecorder, status int, out any) {
	api.t.Helper()
	if w.Code != status {
		api.t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			api.t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
}

func (api *testAPI) login(id, role string) string {
	api.t.Helper()
	var out map[string]string
	api.expect(api.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": id, "role": role}), http.StatusOK, &out)
	if out["access_token"] == "" || out["refresh_token"] == "" {
		api.t.Fatalf("expected token pair, got %v", out)
	}
	return out["access_token"]
}

func (api *testAPI) fund(adminToken, accountID string, coins int64, orderID string) {
	api.t.Helper()
	api.expect(api.do(http.MethodPost, "/v1/admin/accounts/"+accountID+"/purchases", adminToken,
		gin.H{"coins": coins, "order_id": orderID}), http.StatusOK, nil)
}

func (api *testAPI) goOnline(token string) {
	api.t.Helper()
	api.expect(api.do(http.MethodPut, "/v1/me/availability", token, gin.H{"online": true}), http.StatusOK, nil)
}

func (api *testAPI) balance(token string) int64 {
	api.t.Helper()
	var out struct {
		Balance int64 `json:"balance"`
	}
	api.expect(api.do(http.MethodGet, "/v1/wallet/balance", token, nil), http.StatusOK, &out)
	return out.Balance
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestLogin_RegistersAccountAndIssuesTokens(t *testing.T) {
	api := newTestAPI(t, true)
	token := api.login("u1", "user")

	var me struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	api.expect(api.do(http.MethodGet, "/v1/me", token, nil), http.StatusOK, &me)
	if me.ID != "u1" || me.Role != "user" {
		t.Fatalf("unexpected account %+v", me)
	}

	api.expect(api.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "u2", "role": "pilot"}), http.StatusBadRequest, nil)
	api.expect(api.do(http.MethodGet, "/v1/me", "", nil), http.StatusUnauthorized, nil)
}

func TestLogin_DisabledOutsideDevelopment(t *testing.T) {
	api := newTestAPI(t, false)
	api.expect(api.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "u1", "role": "user"}), http.StatusNotFound, nil)
}

func TestRefresh_IssuesNewPair(t *testing.T) {
	api := newTestAPI(t, true)
	var pair map[string]string
	api.expect(api.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "u1", "role": "user"}), http.StatusOK, &pair)

	api.expect(api.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": pair["access_token"]}), http.StatusUnauthorized, nil)

	var next map[string]string
	api.expect(api.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": pair["refresh_token"]}), http.StatusOK, &next)
	if next["access_token"] == "" {
		t.Fatalf("expected access token, got %v", next)
	}
}

func TestCallLifecycle(t *testing.T) {
	api := newTestAPI(t, true)
	admin := api.login("admin1", "admin")
	user := api.login("u1", "user")
	responder := api.login("r1", "responder")
	api.fund(admin, "u1", 100, "order-1")
	api.goOnline(responder)

	var sess calls.Session
	api.expect(api.do(http.MethodPost, "/v1/calls", user, gin.H{"responder_id": "r1", "type": "audio"}), http.StatusCreated, &sess)
	if sess.Call.Status != calls.StatusRinging || sess.Credential == "" {
		t.Fatalf("unexpected session %+v", sess)
	}
	id := sess.Call.ID

	var c calls.Call
	api.expect(api.do(http.MethodPost, "/v1/calls/"+id+"/accept", user, nil), http.StatusForbidden, nil)
	api.expect(api.do(http.MethodPost, "/v1/calls/"+id+"/accept", responder, nil), http.StatusOK, &c)
	if c.Status != calls.StatusConnecting {
		t.Fatalf("expected CONNECTING, got %s", c.Status)
	}
	api.expect(api.do(http.MethodPost, "/v1/calls/"+id+"/confirm", user, nil), http.StatusOK, &c)
	if c.Status != calls.StatusActive || c.RatePerMinute != 10 {
		t.Fatalf("expected ACTIVE at rate 10, got %+v", c)
	}

	outsider := api.login("u2", "user")
	var eb errorBody
	api.expect(api.do(http.MethodGet, "/v1/calls/"+id, outsider, nil), http.StatusForbidden, &eb)
	if eb.Code != "NOT_AUTHORIZED" {
		t.Fatalf("expected NOT_AUTHORIZED, got %+v", eb)
	}

	api.expect(api.do(http.MethodPost, "/v1/calls/"+id+"/end", responder, nil), http.StatusOK, &c)
	if c.Status != calls.StatusEnded || c.EndedAt == nil {
		t.Fatalf("expected ENDED, got %+v", c)
	}
	api.expect(api.do(http.MethodPost, "/v1/calls/"+id+"/accept", responder, nil), http.StatusConflict, nil)

	var list struct {
		Calls []calls.Call `json:"calls"`
	}
	api.expect(api.do(http.MethodGet, "/v1/calls", user, nil), http.StatusOK, &list)
	if len(list.Calls) != 1 || list.Calls[0].ID != id {
		t.Fatalf("unexpected call list %+v", list.Calls)
	}
}

func TestInitiateCall_Errors(t *testing.T) {
	api := newTestAPI(t, true)
	user := api.login("u1", "user")
	responder := api.login("r1", "responder")

	var eb errorBody
	api.expect(api.do(http.MethodPost, "/v1/calls", user, gin.H{"responder_id": "r1", "type": "audio"}), http.StatusConflict, &eb)
	if eb.Code != "CONFLICT" {
		t.Fatalf("expected offline responder conflict, got %+v", eb)
	}

	api.goOnline(responder)
	api.expect(api.do(http.MethodPost, "/v1/calls", user, gin.H{"responder_id": "r1", "type": "audio"}), http.StatusPaymentRequired, &eb)
	if eb.Code != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %+v", eb)
	}

	api.expect(api.do(http.MethodPost, "/v1/calls", user, gin.H{"responder_id": "r1", "type": "fax"}), http.StatusBadRequest, nil)
	api.expect(api.do(http.MethodPost, "/v1/calls", user, gin.H{"responder_id": "nobody", "type": "audio"}), http.StatusNotFound, nil)
	api.expect(api.do(http.MethodPost, "/v1/calls", responder, gin.H{"responder_id": "r1", "type": "audio"}), http.StatusForbidden, nil)
}

func TestChat_BillingAndRedemption(t *testing.T) {
	api := newTestAPI(t, true)
	admin := api.login("admin1", "admin")
	user := api.login("u1", "user")
	responder := api.login("r1", "responder")
	api.fund(admin, "u1", 12, "order-1")

	var room struct {
		ID string `json:"id"`
	}
	api.expect(api.do(http.MethodPost, "/v1/chat/rooms", user, gin.H{"responder_id": "r1"}), http.StatusOK, &room)
	path := "/v1/chat/rooms/" + room.ID + "/messages"

	var msg struct {
		ID           string `json:"id"`
		CoinsCharged int64  `json:"coins_charged"`
	}
	api.expect(api.do(http.MethodPost, path, user, gin.H{"body": "hi"}), http.StatusCreated, &msg)
	if msg.ID == "" {
		t.Fatalf("expected message id")
	}
	api.expect(api.do(http.MethodPost, path, user, gin.H{"body": "again"}), http.StatusCreated, nil)
	if bal := api.balance(user); bal != 2 {
		t.Fatalf("expected balance 2, got %d", bal)
	}

	var eb errorBody
	api.expect(api.do(http.MethodPost, path, user, gin.H{"body": "broke"}), http.StatusPaymentRequired, &eb)
	if eb.Code != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %+v", eb)
	}
	api.expect(api.do(http.MethodPost, path, responder, gin.H{"body": "free reply"}), http.StatusCreated, nil)

	var msgs struct {
		Messages []json.RawMessage `json:"messages"`
	}
	api.expect(api.do(http.MethodGet, path, responder, nil), http.StatusOK, &msgs)
	if len(msgs.Messages) != 3 {
		t.Fatalf("expected 3 stored messages, got %d", len(msgs.Messages))
	}

	var earnings struct {
		Pending int64 `json:"pending_coins"`
	}
	api.expect(api.do(http.MethodGet, "/v1/earnings", responder, nil), http.StatusOK, &earnings)
	if earnings.Pending != 6 {
		t.Fatalf("expected 6 pending coins, got %d", earnings.Pending)
	}
	api.expect(api.do(http.MethodGet, "/v1/earnings", user, nil), http.StatusForbidden, nil)

	api.expect(api.do(http.MethodPost, "/v1/earnings/redemptions", responder, gin.H{"coins": 4}), http.StatusBadRequest, nil)
	var red struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	api.expect(api.do(http.MethodPost, "/v1/earnings/redemptions", responder, gin.H{"coins": 6}), http.StatusCreated, &red)
	if red.Status != "locked" {
		t.Fatalf("expected locked redemption, got %+v", red)
	}

	api.expect(api.do(http.MethodPost, "/v1/admin/redemptions/"+red.ID+"/settle", responder, nil), http.StatusForbidden, nil)
	api.expect(api.do(http.MethodPost, "/v1/admin/redemptions/"+red.ID+"/settle", admin, nil), http.StatusOK, &red)
	if red.Status != "settled" {
		t.Fatalf("expected settled, got %+v", red)
	}
	api.expect(api.do(http.MethodPost, "/v1/admin/redemptions/"+red.ID+"/cancel", admin, nil), http.StatusConflict, nil)

	var events struct {
		Events []audit.Event `json:"events"`
	}
	api.expect(api.do(http.MethodGet, "/v1/admin/audit", admin, nil), http.StatusOK, &events)
	found := false
	for _, e := range events.Events {
		if e.Type == audit.EventTypeRedemptionClosed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected redemption audit event, got %+v", events.Events)
	}
}

func TestAdmin_CoinConfigUpdate(t *testing.T) {
	api := newTestAPI(t, true)
	admin := api.login("admin1", "admin")
	user := api.login("u1", "user")

	api.expect(api.do(http.MethodGet, "/v1/admin/coin-config", user, nil), http.StatusForbidden, nil)

	var cfg map[string]any
	api.expect(api.do(http.MethodGet, "/v1/admin/coin-config", admin, nil), http.StatusOK, &cfg)
	if cfg["chat_coins_per_message"] != float64(5) {
		t.Fatalf("expected seeded chat rate 5, got %v", cfg["chat_coins_per_message"])
	}

	next := gin.H{
		"audio_call_coins_per_minute":     12,
		"video_call_coins_per_minute":     24,
		"chat_coins_per_message":          2,
		"responder_commission_percentage": 60,
		"min_redeem_coins":                100,
		"coin_value":                      "0.25",
		"currency":                        "INR",
		"chat_enabled":                    true,
	}
	api.expect(api.do(http.MethodPut, "/v1/admin/coin-config", admin, next), http.StatusOK, &cfg)
	if cfg["audio_call_coins_per_minute"] != float64(12) || cfg["created_by"] != "admin1" {
		t.Fatalf("unexpected saved config %v", cfg)
	}
	api.expect(api.do(http.MethodGet, "/v1/admin/coin-config", admin, nil), http.StatusOK, &cfg)
	if cfg["responder_commission_percentage"] != float64(60) {
		t.Fatalf("expected new active config, got %v", cfg)
	}

	next["responder_commission_percentage"] = 140
	var eb errorBody
	api.expect(api.do(http.MethodPut, "/v1/admin/coin-config", admin, next), http.StatusBadRequest, &eb)
	if eb.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION, got %+v", eb)
	}
}

func TestSummary_ReportsCoins(t *testing.T) {
	api := newTestAPI(t, true)
	admin := api.login("admin1", "admin")
	user := api.login("u1", "user")
	api.fund(admin, "u1", 40, "order-1")

	var sum struct {
		Coins struct {
			Purchased int64 `json:"purchased_coins"`
		} `json:"coins"`
	}
	api.expect(api.do(http.MethodGet, "/v1/me/summary", user, nil), http.StatusOK, &sum)
	if sum.Coins.Purchased != 40 {
		t.Fatalf("expected 40 purchased coins, got %+v", sum)
	}
	api.expect(api.do(http.MethodGet, "/v1/me/summary?from=yesterday", user, nil), http.StatusBadRequest, nil)
}

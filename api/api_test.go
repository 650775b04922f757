package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/movedispatch/auth"
	"github.com/kilianp07/movedispatch/core/classify"
	"github.com/kilianp07/movedispatch/core/dispatch"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/lifecycle"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/core/tracking"
	"github.com/kilianp07/movedispatch/infra/logger"
	"github.com/kilianp07/movedispatch/infra/ws"
)

const secret = "api-test-secret-value"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	t     *testing.T
	r     *gin.Engine
	clock *clock
	store *ledger.MemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := ledger.NewMemoryStore()
	rules, err := classify.Load("")
	require.NoError(t, err)
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	log := logger.NopLogger{}

	b := dispatch.NewBroadcaster(store, nil, dispatch.Config{OfferWindow: time.Minute}, log)
	b.SetClock(clk.Now)
	res := dispatch.NewResolver(store, nil, log)
	res.SetClock(clk.Now)
	m := lifecycle.NewMachine(store, nil, log)
	m.SetClock(clk.Now)
	tr := tracking.NewChannel(store, nil, nil, tracking.Config{}, log)
	tr.SetClock(clk.Now)

	ids := 0
	r := NewRouter(Services{
		Store:       store,
		Rules:       rules,
		Broadcaster: b,
		Resolver:    res,
		Machine:     m,
		Tracking:    tr,
		Hub:         ws.NewHub(nil, log),
		Verifier:    auth.NewVerifier(secret, ""),
		Log:         log,
		Now:         clk.Now,
		NewID: func() string {
			ids++
			return "move-" + string(rune('0'+ids))
		},
	}, nil)
	return &env{t: t, r: r, clock: clk, store: store}
}

func (e *env) token(user string, role auth.Role) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(e.t, err)
	return s
}

func (e *env) do(method, path, user string, role auth.Role, body any) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token(user, role))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func moveBody(tier string, accept bool) map[string]any {
	return map[string]any{
		"category":       "instant",
		"pickup":         map[string]any{"address": "1 rue A", "lat": 48.85, "lng": 2.35},
		"dropoff":        map[string]any{"address": "9 rue B", "lat": 48.86, "lng": 2.36},
		"tier":           tier,
		"selections":     map[string]int{"sofa_3seater": 1, "bed_140": 1},
		"accept_upgrade": accept,
		"price":          "149.90",
	}
}

func (e *env) createMove(client string) string {
	e.t.Helper()
	w, out := e.do(http.MethodPost, "/api/v1/moves", client, auth.RoleClient, moveBody("regular", false))
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	return out["move"].(map[string]any)["id"].(string)
}

func (e *env) broadcast(moveID string, movers ...string) map[string]string {
	e.t.Helper()
	w, out := e.do(http.MethodPost, "/api/v1/moves/"+moveID+"/broadcast", "disp", auth.RoleDispatcher, map[string]any{"candidates": movers})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	byMover := map[string]string{}
	for _, o := range out["offers"].([]any) {
		m := o.(map[string]any)
		byMover[m["mover_id"].(string)] = m["id"].(string)
	}
	return byMover
}

func TestCreateMoveRequiresUpgradeAcceptance(t *testing.T) {
	e := newEnv(t)

	w, out := e.do(http.MethodPost, "/api/v1/moves", "client-1", auth.RoleClient, moveBody("light", false))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "upgrade_required", out["error"])
	cls := out["classification"].(map[string]any)
	assert.Equal(t, "regular", cls["upgrade_to"])

	w, out = e.do(http.MethodPost, "/api/v1/moves", "client-1", auth.RoleClient, moveBody("light", true))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	mv := out["move"].(map[string]any)
	assert.Equal(t, "requested", mv["status"])
	assert.Equal(t, "regular", mv["classification"].(map[string]any)["tier"])
	assert.Equal(t, "149.9", mv["price"])
	assert.Equal(t, "EUR", mv["currency"])
}

func TestCreateMoveValidation(t *testing.T) {
	e := newEnv(t)
	body := moveBody("regular", false)
	body["category"] = "someday"
	w, out := e.do(http.MethodPost, "/api/v1/moves", "client-1", auth.RoleClient, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", out["error"])

	w, _ = e.do(http.MethodPost, "/api/v1/moves", "mover-a", auth.RoleMover, moveBody("regular", false))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestThreeMoverRaceOverHTTP(t *testing.T) {
	e := newEnv(t)
	moveID := e.createMove("client-1")
	offers := e.broadcast(moveID, "mover-a", "mover-b", "mover-c")
	require.Len(t, offers, 3)

	w, out := e.do(http.MethodGet, "/api/v1/offers/open", "mover-b", auth.RoleMover, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["offers"], 1)

	e.clock.Add(10 * time.Second)
	w, out = e.do(http.MethodPost, "/api/v1/offers/"+offers["mover-b"]+"/accept", "mover-b", auth.RoleMover, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "mover-b", out["move"].(map[string]any)["assigned_mover"])

	for _, loser := range []string{"mover-a", "mover-c"} {
		w, out = e.do(http.MethodPost, "/api/v1/offers/"+offers[loser]+"/accept", loser, auth.RoleMover, map[string]string{"move_id": moveID})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "already_taken", out["error"])
		assert.Equal(t, "offer no longer available", out["message"])
	}

	w, out = e.do(http.MethodGet, "/api/v1/offers/open", "mover-a", auth.RoleMover, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, out["offers"])
}

func TestAcceptAfterWindowIsExpired(t *testing.T) {
	e := newEnv(t)
	moveID := e.createMove("client-1")
	offers := e.broadcast(moveID, "mover-a")

	e.clock.Add(61 * time.Second)
	w, out := e.do(http.MethodPost, "/api/v1/offers/"+offers["mover-a"]+"/accept", "mover-a", auth.RoleMover, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "expired", out["error"])
}

func TestDeclineAndForeignOffer(t *testing.T) {
	e := newEnv(t)
	moveID := e.createMove("client-1")
	offers := e.broadcast(moveID, "mover-a", "mover-b")

	w, out := e.do(http.MethodPost, "/api/v1/offers/"+offers["mover-a"]+"/decline", "mover-a", auth.RoleMover, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "declined", out["status"])

	w, _ = e.do(http.MethodPost, "/api/v1/offers/"+offers["mover-b"]+"/accept", "mover-a", auth.RoleMover, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	moveID := e.createMove("client-1")
	offers := e.broadcast(moveID, "mover-b")
	w, _ := e.do(http.MethodPost, "/api/v1/offers/"+offers["mover-b"]+"/accept", "mover-b", auth.RoleMover, nil)
	require.Equal(t, http.StatusOK, w.Code)

	path := "/api/v1/moves/" + moveID
	w, out := e.do(http.MethodPost, path+"/advance", "mover-b", auth.RoleMover, map[string]string{"from": "assigned"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "en_route", out["status"])

	// retry of the same step is a no-op
	w, out = e.do(http.MethodPost, path+"/advance", "mover-b", auth.RoleMover, map[string]string{"from": "assigned"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "en_route", out["status"])

	w, out = e.do(http.MethodPost, path+"/advance", "mover-b", auth.RoleMover, map[string]string{"from": "loading"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", out["error"])

	w, _ = e.do(http.MethodPost, path+"/advance", "mover-b", auth.RoleMover, map[string]string{"from": "teleporting"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = e.do(http.MethodGet, path+"/history", "client-1", auth.RoleClient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["history"], 2)

	w, _ = e.do(http.MethodGet, path, "client-2", auth.RoleClient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodPost, path+"/cancel", "client-2", auth.RoleClient, map[string]string{"note": "not mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, out = e.do(http.MethodPost, path+"/cancel", "client-1", auth.RoleClient, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled_by_client", out["status"])

	w, _ = e.do(http.MethodGet, "/api/v1/moves/unknown", "client-1", auth.RoleClient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLocationVisibility(t *testing.T) {
	e := newEnv(t)
	moveID := e.createMove("client-1")
	offers := e.broadcast(moveID, "mover-b")
	w, _ := e.do(http.MethodPost, "/api/v1/offers/"+offers["mover-b"]+"/accept", "mover-b", auth.RoleMover, nil)
	require.Equal(t, http.StatusOK, w.Code)

	at := e.clock.Now().Add(-time.Second)
	w, out := e.do(http.MethodPost, "/api/v1/location", "mover-b", auth.RoleMover, map[string]any{"lat": 48.8, "lng": 2.3, "recorded_at": at})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, true, out["stored"])
	assert.Equal(t, moveID, out["move_id"])

	w, out = e.do(http.MethodGet, "/api/v1/movers/mover-b/location", "client-1", auth.RoleClient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 48.8, out["lat"])

	w, _ = e.do(http.MethodGet, "/api/v1/movers/mover-b/location", "client-2", auth.RoleClient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodPost, "/api/v1/location", "mover-b", auth.RoleMover, map[string]any{"lat": 123.0, "lng": 2.3, "recorded_at": at})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassifyEndpoint(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(http.MethodPost, "/api/v1/classify", "client-1", auth.RoleClient, classifyRequest{
		Selections:  map[string]int{"sofa_3seater": 1, "bed_140": 1},
		CurrentTier: model.TierLight,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["requires_upgrade"])
	assert.Equal(t, "regular", out["recommended_tier"])
}

func TestRoleGuards(t *testing.T) {
	e := newEnv(t)
	moveID := e.createMove("client-1")
	w, _ := e.do(http.MethodPost, "/api/v1/moves/"+moveID+"/broadcast", "client-1", auth.RoleClient, map[string]any{"candidates": []string{"m"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/offers/open", nil)
	rec := httptest.NewRecorder()
	e.r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

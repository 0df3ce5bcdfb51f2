package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"modwatch/internal/config"
	"modwatch/internal/models"
	"modwatch/internal/reconciler"
	"modwatch/internal/resolver"
	"modwatch/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPlatform struct {
	users  map[uint64]models.UserSnapshot
	guilds map[uint64]models.Guild
}

func (p *stubPlatform) User(ctx context.Context, id uint64) (models.UserSnapshot, error) {
	snap, ok := p.users[id]
	if !ok {
		return models.UserSnapshot{}, resolver.ErrNotFound
	}
	return snap, nil
}

func (p *stubPlatform) GuildUser(ctx context.Context, guildID, id uint64) (models.UserSnapshot, error) {
	snap, ok := p.users[id]
	if !ok {
		return models.UserSnapshot{}, resolver.ErrNotFound
	}
	gid := guildID
	snap.GuildID = &gid
	snap.Nickname = "A."
	return snap, nil
}

func (p *stubPlatform) Guild(ctx context.Context, guildID uint64) (models.Guild, error) {
	g, ok := p.guilds[guildID]
	if !ok {
		return models.Guild{}, resolver.ErrNotFound
	}
	return g, nil
}

func testServer(adminKey string) (*Server, *store.Memory) {
	log := slog.New(slog.DiscardHandler)
	mem := store.NewMemory()

	platform := &stubPlatform{
		users: map[uint64]models.UserSnapshot{
			42: {ID: 42, Username: "Ann", Discriminator: 1234},
		},
		guilds: map[uint64]models.Guild{
			7: {ID: 7, Name: "mod-hq"},
		},
	}
	res := resolver.New(platform, reconciler.New(mem, log), log, false)

	s := &Server{
		log:      log,
		users:    mem,
		resolver: res,
		cfg:      config.Config{AdminSecretKey: adminKey},
		router:   gin.New(),
	}

	r := s.router
	r.GET("/api/v1/users/:discord_id", s.getUser)
	r.GET("/api/v1/guilds/:guild_id/users/:discord_id", s.getGuildUser)
	admin := r.Group("/api/v1/admin")
	admin.Use(s.adminAuthMiddleware())
	admin.POST("/reconcile/:discord_id", s.forceReconcile)

	return s, mem
}

func do(s *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestGetUser_InvalidSnowflake(t *testing.T) {
	s, _ := testServer("")

	tests := []struct {
		name   string
		target string
	}{
		{"non numeric", "/api/v1/users/abc"},
		{"zero", "/api/v1/users/0"},
		{"bad scope", "/api/v1/users/42?guild_id=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(s, "GET", tt.target, nil); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s, mem := testServer("")

	w := do(s, "GET", "/api/v1/users/999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if mem.Len() != 0 {
		t.Errorf("failed lookup mutated the store: %d records", mem.Len())
	}
}

func TestGetUser_ReturnsSnapshotAndRecord(t *testing.T) {
	s, mem := testServer("")

	w := do(s, "GET", "/api/v1/users/42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		User   models.UserSnapshot `json:"user"`
		Record models.UserRecord   `json:"record"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.User.Username != "Ann" {
		t.Errorf("unexpected snapshot: %+v", body.User)
	}
	if body.Record.Username != "Ann" || body.Record.Discriminator != "1234" {
		t.Errorf("unexpected record: %+v", body.Record)
	}
	if mem.Len() != 1 {
		t.Errorf("expected one stored record, got %d", mem.Len())
	}
}

func TestGetUser_GuildScopeSetsNickname(t *testing.T) {
	s, mem := testServer("")

	w := do(s, "GET", "/api/v1/users/42?guild_id=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	rec, ok, _ := mem.Get(context.Background(), 42)
	if !ok {
		t.Fatal("no record stored")
	}
	if rec.Nickname == nil || *rec.Nickname != "A." {
		t.Errorf("scoped lookup did not store nickname: %v", rec.Nickname)
	}
}

func TestGetGuildUser_UnknownGuild(t *testing.T) {
	s, _ := testServer("")

	if w := do(s, "GET", "/api/v1/guilds/999/users/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	s, _ := testServer("sekret")

	tests := []struct {
		name     string
		headers  map[string]string
		expected int
	}{
		{"missing key", nil, http.StatusUnauthorized},
		{"wrong key", map[string]string{"X-Admin-Key": "nope"}, http.StatusForbidden},
		{"valid key", map[string]string{"X-Admin-Key": "sekret"}, http.StatusOK},
		{"bearer compat", map[string]string{"Authorization": "Bearer sekret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, "POST", "/api/v1/admin/reconcile/42", tt.headers)
			if w.Code != tt.expected {
				t.Errorf("expected %d, got %d: %s", tt.expected, w.Code, w.Body.String())
			}
		})
	}
}

func TestAdminAuth_Unconfigured(t *testing.T) {
	s, _ := testServer("")

	w := do(s, "POST", "/api/v1/admin/reconcile/42", map[string]string{"X-Admin-Key": "anything"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 when admin key unset, got %d", w.Code)
	}
}

func TestForceReconcile_ReturnsRecord(t *testing.T) {
	s, _ := testServer("sekret")

	w := do(s, "POST", "/api/v1/admin/reconcile/42", map[string]string{"X-Admin-Key": "sekret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Record models.UserRecord `json:"record"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Record.ID != 42 || body.Record.Username != "Ann" {
		t.Errorf("unexpected record: %+v", body.Record)
	}
}

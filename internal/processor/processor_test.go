package processor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"modwatch/internal/reconciler"
	"modwatch/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestObservationFromEvent(t *testing.T) {
	tests := []struct {
		name       string
		event      Event
		wantOK     bool
		wantErr    bool
		wantUser   uint64
		wantName   string
		wantDisc   int
		wantScoped bool
		wantNick   string
	}{
		{
			name: "user update",
			event: Event{Type: "USER_UPDATE", Data: map[string]interface{}{
				"user": map[string]interface{}{"id": "42", "username": "Ann", "discriminator": "1234"},
			}},
			wantOK: true, wantUser: 42, wantName: "Ann", wantDisc: 1234,
		},
		{
			name: "migrated account discriminator zero",
			event: Event{Type: "USER_UPDATE", Data: map[string]interface{}{
				"user": map[string]interface{}{"id": "42", "username": "ann", "discriminator": "0"},
			}},
			wantOK: true, wantUser: 42, wantName: "ann", wantDisc: 0,
		},
		{
			name: "guild member update with nick",
			event: Event{Type: "GUILD_MEMBER_UPDATE", Data: map[string]interface{}{
				"guild_id": "7",
				"nick":     "A.",
				"user":     map[string]interface{}{"id": "42", "username": "Ann"},
			}},
			wantOK: true, wantUser: 42, wantName: "Ann", wantScoped: true, wantNick: "A.",
		},
		{
			name: "guild member update without nick clears it",
			event: Event{Type: "GUILD_MEMBER_UPDATE", Data: map[string]interface{}{
				"guild_id": "7",
				"user":     map[string]interface{}{"id": "42"},
			}},
			wantOK: true, wantUser: 42, wantScoped: true, wantNick: "",
		},
		{
			name: "message create in guild",
			event: Event{Type: "MESSAGE_CREATE", Data: map[string]interface{}{
				"guild_id": "7",
				"author":   map[string]interface{}{"id": "42", "username": "Ann", "discriminator": "0001"},
				"member":   map[string]interface{}{"nick": "A."},
			}},
			wantOK: true, wantUser: 42, wantName: "Ann", wantDisc: 1, wantScoped: true, wantNick: "A.",
		},
		{
			name: "direct message stays global",
			event: Event{Type: "MESSAGE_CREATE", Data: map[string]interface{}{
				"author": map[string]interface{}{"id": "42", "username": "Ann"},
			}},
			wantOK: true, wantUser: 42, wantName: "Ann", wantScoped: false,
		},
		{
			name: "presence update",
			event: Event{Type: "PRESENCE_UPDATE", Data: map[string]interface{}{
				"user": map[string]interface{}{"id": "42", "username": "Ann"},
			}},
			wantOK: true, wantUser: 42, wantName: "Ann",
		},
		{
			name:   "untracked event type",
			event:  Event{Type: "TYPING_START", Data: map[string]interface{}{"user_id": "42"}},
			wantOK: false,
		},
		{
			name:    "user update without user payload",
			event:   Event{Type: "USER_UPDATE", Data: map[string]interface{}{}},
			wantErr: true,
		},
		{
			name: "bad user id",
			event: Event{Type: "USER_UPDATE", Data: map[string]interface{}{
				"user": map[string]interface{}{"id": "not-a-snowflake"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, ok, err := ObservationFromEvent(tt.event)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if obs.UserID != tt.wantUser {
				t.Errorf("user id %d, want %d", obs.UserID, tt.wantUser)
			}
			if obs.Username != tt.wantName {
				t.Errorf("username %q, want %q", obs.Username, tt.wantName)
			}
			if obs.Discriminator != tt.wantDisc {
				t.Errorf("discriminator %d, want %d", obs.Discriminator, tt.wantDisc)
			}
			if obs.GuildScoped != tt.wantScoped {
				t.Errorf("guild scoped %v, want %v", obs.GuildScoped, tt.wantScoped)
			}
			if obs.Nickname != tt.wantNick {
				t.Errorf("nickname %q, want %q", obs.Nickname, tt.wantNick)
			}
		})
	}
}

func TestProcessEvent_ReconcilesIntoStore(t *testing.T) {
	mem := store.NewMemory()
	ep := New(testLogger(), reconciler.New(mem, testLogger()), nil)

	event := Event{
		Type: "GUILD_MEMBER_UPDATE",
		Data: map[string]interface{}{
			"guild_id": "7",
			"nick":     "A.",
			"user":     map[string]interface{}{"id": "42", "username": "Ann", "discriminator": "1234"},
		},
		Timestamp: time.Now(),
	}

	if err := ep.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	rec, ok, _ := mem.Get(context.Background(), 42)
	if !ok {
		t.Fatal("event did not create a record")
	}
	if rec.Username != "Ann" || rec.Discriminator != "1234" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Nickname == nil || *rec.Nickname != "A." {
		t.Errorf("nickname not recorded: %v", rec.Nickname)
	}
}

func TestProcessEvent_UntrackedTypeIsNoop(t *testing.T) {
	mem := store.NewMemory()
	ep := New(testLogger(), reconciler.New(mem, testLogger()), nil)

	event := Event{Type: "VOICE_STATE_UPDATE", Data: map[string]interface{}{"user_id": "42"}}
	if err := ep.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("untracked event mutated the store: %d records", mem.Len())
	}
}

func TestEventQueue(t *testing.T) {
	ep := New(testLogger(), nil, nil)

	event := Event{Type: "USER_UPDATE", Data: map[string]interface{}{"test": true}}
	ep.EventQueue() <- event

	if len(ep.EventQueue()) != 1 {
		t.Errorf("expected 1 event in queue, got %d", len(ep.EventQueue()))
	}

	received := <-ep.EventQueue()
	if received.Type != "USER_UPDATE" {
		t.Errorf("expected USER_UPDATE, got %s", received.Type)
	}
}

func TestBuildDedupKey(t *testing.T) {
	ep := New(testLogger(), nil, nil)

	event := Event{Type: "USER_UPDATE", Data: map[string]interface{}{"guild_id": "7"}}
	if key := ep.buildDedupKey(event, 42); key != "event:dedup:42:7:USER_UPDATE" {
		t.Errorf("unexpected key: %q", key)
	}

	event = Event{Type: "USER_UPDATE", Data: map[string]interface{}{}}
	if key := ep.buildDedupKey(event, 42); key != "event:dedup:42:USER_UPDATE" {
		t.Errorf("unexpected key: %q", key)
	}

	if key := ep.buildDedupKey(event, 0); key != "" {
		t.Errorf("expected empty key without user id, got %q", key)
	}
}

package homeassistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/notify"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

const testToken = "long-lived-token"

// fakeHA speaks enough of the Home Assistant WebSocket API for the client.
type fakeHA struct {
	version string
	results map[string]func(cmd map[string]any) any
	errors  map[string]resultError

	mu       sync.Mutex
	commands []map[string]any
}

func newFakeHA(version string) *fakeHA {
	return &fakeHA{
		version: version,
		results: make(map[string]func(map[string]any) any),
		errors:  make(map[string]resultError),
	}
}

func (f *fakeHA) result(command string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = func(map[string]any) any { return v }
}

func (f *fakeHA) fail(command, code, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[command] = resultError{Code: code, Message: message}
}

func (f *fakeHA) seen(command string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, c := range f.commands {
		if c["type"] == command {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": f.version}); err != nil {
		return
	}
	var auth map[string]any
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["type"] != "auth" || auth["access_token"] != testToken {
		conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token or password"}) //nolint:errcheck // Test server
		return
	}
	if err := conn.WriteJSON(map[string]any{"type": "auth_ok", "ha_version": f.version}); err != nil {
		return
	}

	for {
		var cmd map[string]any
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		id := cmd["id"]
		command, _ := cmd["type"].(string)

		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		failure, failing := f.errors[command]
		result := f.results[command]
		f.mu.Unlock()

		var reply map[string]any
		switch {
		case command == "ping":
			reply = map[string]any{"id": id, "type": "pong"}
		case failing:
			reply = map[string]any{"id": id, "type": "result", "success": false, "error": failure}
		case result != nil:
			reply = map[string]any{"id": id, "type": "result", "success": true, "result": result(cmd)}
		default:
			reply = map[string]any{"id": id, "type": "result", "success": false,
				"error": resultError{Code: codeUnknownCommand, Message: "Unknown command."}}
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func dialFake(t *testing.T, ha *fakeHA, token string) (*Client, error) {
	t.Helper()
	srv := httptest.NewServer(ha)
	t.Cleanup(srv.Close)

	client, err := Dial(context.Background(), Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/websocket",
		Token: token,
	})
	if err == nil {
		t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	}
	return client, err
}

func TestDial(t *testing.T) {
	t.Run("auth ok", func(t *testing.T) {
		client, err := dialFake(t, newFakeHA("2024.10.1"), testToken)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		if client.Version() != "2024.10.1" {
			t.Errorf("Version() = %q", client.Version())
		}
		if err := client.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})

	t.Run("auth invalid", func(t *testing.T) {
		_, err := dialFake(t, newFakeHA("2024.10.1"), "wrong")
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("Dial() error = %v, want ErrAuthFailed", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/api/websocket", Token: testToken})
		if err == nil {
			t.Error("Dial() expected error for unreachable host")
		}
	})
}

func TestClient_CommandError(t *testing.T) {
	ha := newFakeHA("2024.10.1")
	ha.fail("config/area_registry/list", "unauthorized", "Unauthorized")

	client, err := dialFake(t, ha, testToken)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	_, err = client.Call(context.Background(), "config/area_registry/list", nil)
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Code != "unauthorized" {
		t.Fatalf("Call() error = %v, want CommandError unauthorized", err)
	}
	if errors.Is(err, ErrUnknownCommand) {
		t.Error("unauthorized matched ErrUnknownCommand")
	}

	_, err = client.Call(context.Background(), "no/such/command", nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Call() error = %v, want ErrUnknownCommand", err)
	}
}

func TestClient_CallAfterClose(t *testing.T) {
	client, err := dialFake(t, newFakeHA("2024.10.1"), testToken)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping() after Close expected error")
	}
}

// countingDial dials ha and counts attempts. While fail is set it
// returns that error instead.
type countingDial struct {
	url string

	mu    sync.Mutex
	dials int
	fail  error
}

func newCountingDial(t *testing.T, ha *fakeHA) *countingDial {
	t.Helper()
	srv := httptest.NewServer(ha)
	t.Cleanup(srv.Close)
	return &countingDial{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/websocket"}
}

func (d *countingDial) dial(ctx context.Context) (*Client, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return Dial(ctx, Config{URL: d.url, Token: testToken})
}

func (d *countingDial) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *countingDial) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func newTestSession(t *testing.T, d *countingDial) *Session {
	t.Helper()
	session, err := NewSession(context.Background(), d.dial)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { session.Close() }) //nolint:errcheck // Test cleanup
	return session
}

// dropConnection closes the socket underneath the session's client, as
// a Home Assistant restart would.
func dropConnection(t *testing.T, s *Session) {
	t.Helper()
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if err := client.conn.UnderlyingConn().Close(); err != nil {
		t.Fatalf("closing socket: %v", err)
	}
	<-client.done
}

func TestSession_RedialsAfterDrop(t *testing.T) {
	ctx := context.Background()
	d := newCountingDial(t, homeFake("2024.10.1"))
	session := newTestSession(t, d)
	reg := NewRegistry(session)

	if _, err := reg.ListAreas(ctx); err != nil {
		t.Fatalf("ListAreas() error = %v", err)
	}
	dropConnection(t, session)

	areas, err := reg.ListAreas(ctx)
	if err != nil {
		t.Fatalf("ListAreas() after drop error = %v", err)
	}
	if len(areas) != 1 || areas[0].ID != "kitchen" {
		t.Errorf("ListAreas() after drop = %+v", areas)
	}
	if got := d.count(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	if err := session.Ping(ctx); err != nil {
		t.Errorf("Ping() after redial error = %v", err)
	}
}

func TestSession_RetriesCallThatHitsDeadConnection(t *testing.T) {
	ctx := context.Background()
	d := newCountingDial(t, homeFake("2024.10.1"))
	session := newTestSession(t, d)

	// Close the socket without waiting for the reader to notice, so the
	// first attempt fails on write rather than in connection().
	session.mu.Lock()
	err := session.client.conn.UnderlyingConn().Close()
	session.mu.Unlock()
	if err != nil {
		t.Fatalf("closing socket: %v", err)
	}

	if _, err := session.Call(ctx, "config/area_registry/list", nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := d.count(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestSession_BackoffAfterFailedRedial(t *testing.T) {
	ctx := context.Background()
	d := newCountingDial(t, homeFake("2024.10.1"))
	session := newTestSession(t, d)

	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	session.now = func() time.Time { return now }

	dropConnection(t, session)
	d.setFail(errors.New("connection refused"))

	if err := session.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ping() error = %v, want ErrClosed", err)
	}
	if got := d.count(); got != 2 {
		t.Fatalf("dials after failed redial = %d, want 2", got)
	}

	// Inside the backoff window no dial is attempted.
	now = now.Add(redialMinBackoff / 2)
	if err := session.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ping() inside backoff error = %v, want ErrClosed", err)
	}
	if got := d.count(); got != 2 {
		t.Errorf("dials inside backoff = %d, want 2", got)
	}

	// A second failure doubles the window.
	now = now.Add(redialMinBackoff)
	if err := session.Ping(ctx); err == nil {
		t.Fatal("Ping() with server still down error = nil")
	}
	if session.backoff != 2*redialMinBackoff {
		t.Errorf("backoff = %v, want %v", session.backoff, 2*redialMinBackoff)
	}

	d.setFail(nil)
	now = now.Add(2 * redialMinBackoff)
	if err := session.Ping(ctx); err != nil {
		t.Fatalf("Ping() after recovery error = %v", err)
	}
	if session.backoff != 0 {
		t.Errorf("backoff after recovery = %v, want 0", session.backoff)
	}
	if got := d.count(); got != 4 {
		t.Errorf("dials = %d, want 4", got)
	}
}

func TestSession_CallAfterClose(t *testing.T) {
	d := newCountingDial(t, homeFake("2024.10.1"))
	session := newTestSession(t, d)
	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := session.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping() after Close error = %v, want ErrClosed", err)
	}
	if got := d.count(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func homeFake(version string) *fakeHA {
	ha := newFakeHA(version)
	ha.result("config/floor_registry/list", []map[string]any{
		{"floor_id": "ground", "name": "Ground Floor", "level": 0, "aliases": []string{}},
	})
	ha.result("config/area_registry/list", []map[string]any{
		{"area_id": "kitchen", "name": "Kitchen", "floor_id": "ground", "picture": nil},
	})
	ha.result("config/device_registry/list", []map[string]any{
		{"id": "dev-lamp", "name": "Kitchen Lamp", "manufacturer": "Signify", "area_id": "kitchen",
			"config_entries": []string{"hue-1"}, "primary_config_entry": "hue-1"},
	})
	ha.result("config/entity_registry/list", []map[string]any{
		{"entity_id": "light.kitchen", "name": "Kitchen Light", "labels": []string{"lighting"},
			"device_id": "dev-lamp", "platform": "hue"},
		{"entity_id": "sensor.outside", "name": nil, "original_name": "Outside", "labels": []string{}},
	})
	ha.result("get_states", []map[string]any{
		{"entity_id": "sensor.outside", "state": "12.5",
			"attributes": map[string]any{"device_class": "temperature", "unit_of_measurement": "°C"}},
		{"entity_id": "sun.sun", "state": "above_horizon", "attributes": map[string]any{}},
	})
	ha.result("config_entries/get", []map[string]any{
		{"entry_id": "hue-1", "domain": "hue", "title": "Philips Hue", "source": "user", "state": "loaded"},
	})
	ha.results["config/entity_registry/update"] = func(cmd map[string]any) any {
		return map[string]any{"entity_entry": map[string]any{
			"entity_id": cmd["entity_id"], "name": cmd["name"], "labels": cmd["labels"],
		}}
	}
	ha.result("call_service", map[string]any{"context": map[string]any{"id": "ctx"}})
	return ha
}

func TestRegistry_Lists(t *testing.T) {
	ctx := context.Background()
	ha := homeFake("2024.10.1")
	client, err := dialFake(t, ha, testToken)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	reg := NewRegistry(client)

	floors, err := registry.Floors(ctx, reg)
	if err != nil || len(floors) != 1 || floors[0].Name != "Ground Floor" {
		t.Errorf("Floors() = %+v, %v", floors, err)
	}

	areas, err := reg.ListAreas(ctx)
	if err != nil || len(areas) != 1 || registry.Value(areas[0].FloorID) != "ground" {
		t.Errorf("ListAreas() = %+v, %v", areas, err)
	}

	devices, err := reg.ListDevices(ctx)
	if err != nil || len(devices) != 1 || registry.Value(devices[0].OwningConfigEntry()) != "hue-1" {
		t.Errorf("ListDevices() = %+v, %v", devices, err)
	}

	entities, err := reg.ListEntities(ctx)
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("ListEntities() len = %d, want 2", len(entities))
	}
	outside := entities[1]
	if registry.Value(outside.DeviceClass) != "temperature" || registry.Value(outside.UnitOfMeasurement) != "°C" {
		t.Errorf("state attributes not merged: %+v", outside)
	}
	if outside.Name != nil {
		t.Errorf("null name decoded as %q", *outside.Name)
	}

	entries, err := registry.ConfigEntries(ctx, reg)
	if err != nil || len(entries) != 1 || entries[0].Domain != "hue" {
		t.Errorf("ConfigEntries() = %+v, %v", entries, err)
	}
}

func TestRegistry_FloorSupport(t *testing.T) {
	ctx := context.Background()

	t.Run("too old", func(t *testing.T) {
		ha := homeFake("2024.3.3")
		client, err := dialFake(t, ha, testToken)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		floors, err := registry.Floors(ctx, NewRegistry(client))
		if err != nil || len(floors) != 0 {
			t.Errorf("Floors() = %+v, %v, want empty", floors, err)
		}
		if len(ha.seen("config/floor_registry/list")) != 0 {
			t.Error("floor registry queried on a release without floors")
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		ha := homeFake("")
		delete(ha.results, "config/floor_registry/list")
		client, err := dialFake(t, ha, testToken)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		floors, err := registry.Floors(ctx, NewRegistry(client))
		if err != nil || len(floors) != 0 {
			t.Errorf("Floors() = %+v, %v, want empty", floors, err)
		}
	})
}

func TestRegistry_UpdateEntity(t *testing.T) {
	ctx := context.Background()
	ha := homeFake("2024.10.1")
	client, err := dialFake(t, ha, testToken)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	reg := NewRegistry(client)

	got, err := reg.UpdateEntity(ctx, "light.kitchen", registry.EntityUpdate{NameSet: true, Name: registry.Ptr("Kitchen Lamp")})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if registry.Value(got.Name) != "Kitchen Lamp" {
		t.Errorf("returned name = %q", registry.Value(got.Name))
	}

	if _, err := reg.UpdateEntity(ctx, "light.kitchen", registry.EntityUpdate{NameSet: true, LabelsSet: true, Labels: []string{"b", "a"}}); err != nil {
		t.Fatalf("UpdateEntity(clear) error = %v", err)
	}

	frames := ha.seen("config/entity_registry/update")
	if len(frames) != 2 {
		t.Fatalf("update frames = %d, want 2", len(frames))
	}
	if _, hasLabels := frames[0]["labels"]; hasLabels {
		t.Error("labels sent although not set")
	}
	if name, hasName := frames[1]["name"]; !hasName || name != nil {
		t.Errorf("clear frame name = %v (present %v), want explicit null", name, hasName)
	}
	labels, _ := frames[1]["labels"].([]any)
	if len(labels) != 2 || labels[0] != "a" {
		t.Errorf("labels = %v, want sorted [a b]", frames[1]["labels"])
	}

	ha.fail("config/entity_registry/update", "not_found", "Entity not found")
	_, err = reg.UpdateEntity(ctx, "light.nonexistent", registry.EntityUpdate{NameSet: true})
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("UpdateEntity(missing) error = %v, want registry.ErrNotFound", err)
	}
}

func TestRegistry_Notify(t *testing.T) {
	ha := homeFake("2024.10.1")
	client, err := dialFake(t, ha, testToken)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	err = NewRegistry(client).Notify(context.Background(), notify.Notification{
		ID:      "ha_snapshot_export_data",
		Title:   "HA Snapshot Created",
		Message: "[Download](/local/ha_snapshot_data.json)",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	frames := ha.seen("call_service")
	if len(frames) != 1 {
		t.Fatalf("call_service frames = %d, want 1", len(frames))
	}
	if frames[0]["domain"] != "persistent_notification" || frames[0]["service"] != "create" {
		t.Errorf("frame = %v", frames[0])
	}
	data, _ := frames[0]["service_data"].(map[string]any)
	if data["notification_id"] != "ha_snapshot_export_data" || data["title"] != "HA Snapshot Created" {
		t.Errorf("service_data = %v", data)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in     string
		want   version
		wantOK bool
	}{
		{"2024.4.0", version{2024, 4}, true},
		{"2025.1.0.dev0", version{2025, 1}, true},
		{"2023.12", version{2023, 12}, true},
		{"", version{}, false},
		{"dev", version{}, false},
		{"2024.x.1", version{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseVersion(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseVersion(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
	if !(version{2024, 3}).less(floorsSince) || (version{2025, 1}).less(floorsSince) {
		t.Error("version ordering wrong around floorsSince")
	}
}

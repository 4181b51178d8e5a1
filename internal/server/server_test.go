package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/internal/version"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitWith("error", "text", os.Stderr)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.MatchService) {
	t.Helper()
	cfg := engine.NewConfig()
	cfg.Countdown = 0
	svc := engine.NewService(cfg, nil, nil)
	srv := httptest.NewServer(New(svc, "0").Router())
	t.Cleanup(func() {
		svc.Shutdown()
		srv.Close()
	})
	return srv, svc
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	data, err := api.Encode(eventType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) api.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// next требует, чтобы следующее сообщение было нужного типа.
func next(t *testing.T, conn *websocket.Conn, eventType string) api.Message {
	t.Helper()
	msg := read(t, conn)
	if msg.Type != eventType {
		t.Fatalf("got %s (%s), want %s", msg.Type, msg.Payload, eventType)
	}
	return msg
}

// until пропускает сообщения других типов.
func until(t *testing.T, conn *websocket.Conn, eventType string) api.Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		if msg := read(t, conn); msg.Type == eventType {
			return msg
		}
	}
	t.Fatalf("no %s within 20 messages", eventType)
	return api.Message{}
}

func decode[T any](t *testing.T, msg api.Message) T {
	t.Helper()
	var v T
	if err := msg.Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func ref(p domain.PlayerID) api.MatchRef {
	return api.MatchRef{MatchID: "m1", PlayerID: p}
}

func placement(id string, q, r int) domain.Placement {
	return domain.Placement{Creature: domain.Creature{ID: id, Name: id}, Hex: hex.Coord{Q: q, R: r}}
}

func joinDeployment(t *testing.T, srv *httptest.Server, p domain.PlayerID) *websocket.Conn {
	t.Helper()
	conn := dial(t, srv, "/ws/deployment")
	send(t, conn, api.EventJoin, api.JoinPayload{MatchRef: ref(p)})
	next(t, conn, api.EventState)
	return conn
}

// startCombat доводит матч m1 до фазы боя.
func startCombat(t *testing.T, srv *httptest.Server) (p1, p2 *websocket.Conn) {
	t.Helper()
	p1 = joinDeployment(t, srv, domain.Player1)
	p2 = joinDeployment(t, srv, domain.Player2)

	send(t, p1, api.EventPlace, api.PlacePayload{MatchRef: ref(domain.Player1), Placement: placement("knight", 0, 0)})
	send(t, p2, api.EventPlace, api.PlacePayload{MatchRef: ref(domain.Player2), Placement: placement("orc", 11, 0)})
	send(t, p1, api.EventReady, api.ReadyPayload{MatchRef: ref(domain.Player1)})
	send(t, p2, api.EventReady, api.ReadyPayload{MatchRef: ref(domain.Player2)})

	until(t, p1, api.EventCombatStarted)
	until(t, p2, api.EventCombatStarted)
	return p1, p2
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestDeploymentOverWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	p1 := joinDeployment(t, srv, domain.Player1)
	p2 := joinDeployment(t, srv, domain.Player2)
	next(t, p1, api.EventOpponentConnected)

	send(t, p1, api.EventPlace, api.PlacePayload{MatchRef: ref(domain.Player1), Placement: placement("knight", 1, 2)})
	placed := decode[api.OpponentPlacedPayload](t, until(t, p2, api.EventOpponentPlaced))
	if placed.PlayerID != domain.Player1 || placed.Placement.Creature.ID != "knight" || placed.Placement.Hex != (hex.Coord{Q: 1, R: 2}) {
		t.Errorf("opponent-placed = %+v", placed)
	}

	// Отказ сервера: error, затем полный state.
	send(t, p1, api.EventPlace, api.PlacePayload{MatchRef: ref(domain.Player1), Placement: placement("archer", 6, 0)})
	if ep := decode[api.ErrorPayload](t, next(t, p1, api.EventError)); ep.Code != "out_of_zone" {
		t.Errorf("error = %+v", ep)
	}
	state := decode[api.StatePayload](t, next(t, p1, api.EventState))
	if len(state.Player1Placements) != 1 {
		t.Errorf("resync placements = %+v", state.Player1Placements)
	}

	// Битый JSON не рвет соединение.
	if err := p1.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if ep := decode[api.ErrorPayload](t, next(t, p1, api.EventError)); ep.Code != api.CodeBadRequest {
		t.Errorf("malformed error = %+v", ep)
	}

	_ = p2.Close()
	if who := decode[api.PlayerPayload](t, until(t, p1, api.EventOpponentDisconnected)); who.PlayerID != domain.Player2 {
		t.Errorf("disconnected = %+v", who)
	}
}

func TestDeploymentHandshakeRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name      string
		eventType string
		payload   any
		wantCode  string
	}{
		{name: "not a join", eventType: api.EventReady, payload: api.ReadyPayload{MatchRef: ref(domain.Player1)}, wantCode: api.CodeNotJoined},
		{name: "missing match", eventType: api.EventJoin, payload: api.JoinPayload{MatchRef: api.MatchRef{PlayerID: domain.Player1}}, wantCode: api.CodeBadRequest},
		{name: "unknown player", eventType: api.EventJoin, payload: map[string]string{"matchId": "m1", "playerId": "player3"}, wantCode: api.CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, srv, "/ws/deployment")
			send(t, conn, tt.eventType, tt.payload)
			if ep := decode[api.ErrorPayload](t, next(t, conn, api.EventError)); ep.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", ep.Code, tt.wantCode)
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Error("connection still open after rejected handshake")
			}
		})
	}
}

func TestCombatRelayOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	p1, _ := startCombat(t, srv)

	// Неизвестный матч и несовпадение id.
	if resp := postJSON(t, srv.URL+"/api/matches/nope/combat/state", domain.CombatSnapshot{}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown match status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/api/matches/m1/combat/state", domain.CombatSnapshot{MatchID: "m2"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched id status = %d", resp.StatusCode)
	}

	viewer := dial(t, srv, "/ws/combat")
	send(t, viewer, api.CombatJoin, api.CombatRoomPayload{MatchID: "m1"})
	joined := decode[api.CombatJoinedPayload](t, next(t, viewer, api.CombatJoined))
	if joined.Room != "combat:m1" {
		t.Errorf("joined = %+v", joined)
	}

	snap := domain.CombatSnapshot{
		Tick:   3,
		Status: domain.CombatRunning,
		Units:  []domain.CombatUnit{{UnitID: "player1:knight", OwnerID: domain.Player1, Health: 10, MaxHealth: 10}},
	}
	if resp := postJSON(t, srv.URL+"/api/matches/m1/combat/state", snap); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("state status = %d", resp.StatusCode)
	}
	got := decode[domain.CombatSnapshot](t, next(t, viewer, api.CombatState))
	if got.MatchID != "m1" || got.Tick != 3 || len(got.Units) != 1 {
		t.Errorf("snapshot = %+v", got)
	}

	send(t, viewer, api.CombatGetState, api.CombatRoomPayload{MatchID: "m1"})
	if again := decode[domain.CombatSnapshot](t, next(t, viewer, api.CombatState)); again.Tick != 3 {
		t.Errorf("resent tick = %d", again.Tick)
	}

	events := api.CombatEventsPayload{Events: []domain.CombatEvent{{Type: domain.EventAttack, UnitID: "player1:knight"}}}
	if resp := postJSON(t, srv.URL+"/api/matches/m1/combat/events", events); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("events status = %d", resp.StatusCode)
	}
	if evs := decode[api.CombatEventsPayload](t, next(t, viewer, api.CombatEvents)); len(evs.Events) != 1 {
		t.Errorf("events = %+v", evs)
	}

	result := domain.CombatResult{Winner: domain.Player1, Reason: "elimination", Duration: 1200}
	if resp := postJSON(t, srv.URL+"/api/matches/m1/combat/complete", result); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("complete status = %d", resp.StatusCode)
	}
	if res := decode[api.CombatCompletedResult](t, next(t, viewer, api.CombatCompleted)); res.Result.Winner != domain.Player1 {
		t.Errorf("completed = %+v", res)
	}
	if done := decode[api.CombatCompletedPayload](t, until(t, p1, api.EventCombatCompleted)); done.Duration != 1200 {
		t.Errorf("combat-completed = %+v", done)
	}

	// Поздний зритель сразу получает последний снимок и итог.
	late := dial(t, srv, "/ws/combat")
	send(t, late, api.CombatJoin, api.CombatRoomPayload{MatchID: "m1"})
	next(t, late, api.CombatJoined)
	next(t, late, api.CombatState)
	next(t, late, api.CombatCompleted)

	resp, err := http.Get(srv.URL + "/api/matches/m1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info domain.MatchInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Status.Phase != domain.PhaseCompleted || info.Result == nil || len(info.Player1Placements) != 1 {
		t.Errorf("match info = %+v", info)
	}
}

func TestCombatBeforeStart(t *testing.T) {
	srv, _ := newTestServer(t)
	joinDeployment(t, srv, domain.Player1)

	if resp := postJSON(t, srv.URL+"/api/matches/m1/combat/state", domain.CombatSnapshot{}); resp.StatusCode != http.StatusConflict {
		t.Errorf("state before combat = %d", resp.StatusCode)
	}

	viewer := dial(t, srv, "/ws/combat")
	send(t, viewer, api.CombatJoin, api.CombatRoomPayload{MatchID: "unknown"})
	if ep := decode[api.ErrorPayload](t, next(t, viewer, api.EventError)); ep.Code != api.CodeMatchNotFound {
		t.Errorf("error = %+v", ep)
	}
}

func TestSyncClientAgainstServer(t *testing.T) {
	srv, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deployment"

	p1 := syncclient.New(syncclient.DefaultConfig(url, "m1", domain.Player1))
	p2 := syncclient.New(syncclient.DefaultConfig(url, "m1", domain.Player2))
	t.Cleanup(func() {
		_ = p1.Close()
		_ = p2.Close()
	})

	placedCh := make(chan api.OpponentPlacedPayload, 4)
	p2.OnOpponentPlaced(func(p api.OpponentPlacedPayload) { placedCh <- p })
	started := make(chan string, 2)
	p1.OnCombatStarted(func(p api.CombatStartedPayload) { started <- p.MatchID })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p1.Connect(ctx); err != nil {
		t.Fatalf("player1 connect: %v", err)
	}
	if err := p2.Connect(ctx); err != nil {
		t.Fatalf("player2 connect: %v", err)
	}

	if err := p1.Place(placement("knight", 2, 3)); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-placedCh:
		if p.Placement.Creature.ID != "knight" || p.Placement.Creature.OwnerPlayer != domain.Player1 {
			t.Errorf("opponent placed = %+v", p)
		}
	case <-ctx.Done():
		t.Fatal("player2 never saw the placement")
	}

	if err := p2.Place(placement("orc", 10, 3)); err != nil {
		t.Fatal(err)
	}
	if err := p1.Ready(); err != nil {
		t.Fatal(err)
	}
	if err := p2.Ready(); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-started:
		if id != "m1" {
			t.Errorf("combat started for %q", id)
		}
	case <-ctx.Done():
		t.Fatal("combat never started")
	}
}

func TestHealthVersionAndDebug(t *testing.T) {
	srv, _ := newTestServer(t)
	joinDeployment(t, srv, domain.Player1)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	var info version.VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Errorf("version body: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/debug/matches")
	if err != nil {
		t.Fatal(err)
	}
	var matches []domain.MatchInfo
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil || len(matches) != 1 || matches[0].MatchID != "m1" {
		t.Errorf("debug matches = %+v err=%v", matches, err)
	}
	resp.Body.Close()

	if resp, err := http.Get(srv.URL + "/debug/matches/none"); err != nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown debug match: %v %v", resp, err)
	} else {
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/matches/m1/combat/state", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

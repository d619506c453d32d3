package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) (*ws.Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(nil, quietLogger())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *ws.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectedCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("connected = %d, want %d", hub.ConnectedCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusEvent(id uuid.UUID) domain.MarketEvent {
	m := &domain.Market{
		ID:       id,
		Title:    "ETH above 4k?",
		Type:     domain.MarketYesNo,
		Outcomes: domain.DefaultOutcomes(domain.MarketYesNo, "", ""),
		Status:   domain.StatusClosed,
		ClosesAt: time.Now().Add(-time.Minute),
	}
	return domain.NewMarketEvent(domain.EventMarketStatus, m, time.Now().UTC())
}

func readType(t *testing.T, conn *websocket.Conn) (ws.MsgType, uuid.UUID) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type     ws.MsgType `json:"type"`
		MarketID uuid.UUID  `json:"market_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg.Type, msg.MarketID
}

func TestHub_NotifyReachesClient(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	id := uuid.New()
	hub.Notify(context.Background(), statusEvent(id))

	typ, got := readType(t, conn)
	if typ != ws.MsgTypeMarketStatus {
		t.Errorf("type = %q, want %q", typ, ws.MsgTypeMarketStatus)
	}
	if got != id {
		t.Errorf("market_id = %s, want %s", got, id)
	}
}

func TestHub_MarketFilter(t *testing.T) {
	hub, srv := startHub(t)
	watched := uuid.New()
	other := uuid.New()

	filtered := dial(t, srv, "?market="+watched.String())
	waitForClients(t, hub, 1)

	hub.Notify(context.Background(), statusEvent(other))
	hub.Notify(context.Background(), statusEvent(watched))

	// The first message seen by the filtered client must be the watched one.
	_, got := readType(t, filtered)
	if got != watched {
		t.Errorf("filtered client received market %s, want %s", got, watched)
	}
}

func TestHub_RejectsBadMarketParam(t *testing.T) {
	_, srv := startHub(t)
	resp, err := http.Get(srv.URL + "?market=not-a-uuid")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectedCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client still registered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMessageFor(t *testing.T) {
	id := uuid.New()
	paid := decimal.NewFromInt(150)
	trade := &domain.Trade{ID: uuid.New(), MarketID: id, Side: domain.OutcomeYes, AmountPts: decimal.NewFromInt(100)}
	resolved := statusEvent(id)
	resolved.Type = domain.EventMarketResolved
	resolved.Market.Resolution = &domain.Resolution{Winner: domain.OutcomeNo, Reason: "manual"}

	tests := []struct {
		name   string
		ev     domain.MarketEvent
		wantOK bool
		want   ws.MsgType
	}{
		{"trade", domain.MarketEvent{Type: domain.EventTradeExecuted, MarketID: id, Trade: trade}, true, ws.MsgTypeTradeExecuted},
		{"trade without payload", domain.MarketEvent{Type: domain.EventTradeExecuted, MarketID: id}, false, ""},
		{"status", statusEvent(id), true, ws.MsgTypeMarketStatus},
		{"status without market", domain.MarketEvent{Type: domain.EventMarketStatus, MarketID: id}, false, ""},
		{"resolved", resolved, true, ws.MsgTypeMarketResolved},
		{"resolved without resolution", domain.MarketEvent{Type: domain.EventMarketResolved, MarketID: id, Market: statusEvent(id).Market}, false, ""},
		{"claims", domain.MarketEvent{Type: domain.EventClaimsSettled, MarketID: id, Claims: 2, Paid: &paid}, true, ws.MsgTypeClaimsSettled},
		{"unknown", domain.MarketEvent{Type: "nope", MarketID: id}, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := ws.MessageFor(tc.ev)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var head struct {
				Type ws.MsgType `json:"type"`
			}
			_ = json.Unmarshal(data, &head)
			if head.Type != tc.want {
				t.Errorf("type = %q, want %q", head.Type, tc.want)
			}
		})
	}
}

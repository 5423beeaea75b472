package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coinledger/portfolio-engine/internal/api"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHubBroadcastReachesClients(t *testing.T) {
	hub := api.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	client := dialWS(t, srv)
	defer client.Close()

	// Registration runs through the hub loop; give it a beat.
	time.Sleep(50 * time.Millisecond)

	sent := api.PriceUpdate{Type: "price_update", Symbol: "BTC", PriceUSD: "40000", At: time.Now().UTC()}
	hub.Broadcast(sent)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var got api.PriceUpdate
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "price_update" || got.Symbol != "BTC" || got.PriceUSD != "40000" {
		t.Errorf("broadcast = %+v", got)
	}
}

func TestHubSurvivesAbruptClientDisconnect(t *testing.T) {
	hub := api.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	dead := dialWS(t, srv)
	healthy := dialWS(t, srv)
	defer healthy.Close()
	time.Sleep(50 * time.Millisecond)

	// Kill the TCP connection without a close handshake, then hammer
	// broadcasts so the hub evicts the dead client mid-loop while its
	// ping goroutine is still reading the client set.
	dead.UnderlyingConn().Close()
	for i := 0; i < 500; i++ {
		hub.Broadcast(api.PriceUpdate{
			Type:     "price_update",
			Symbol:   "ETH",
			PriceUSD: "2500",
			At:       time.Now().UTC(),
		})
	}

	// The surviving client keeps receiving.
	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := healthy.ReadMessage(); err != nil {
		t.Fatalf("healthy client read after eviction: %v", err)
	}
}

package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickfeed/pkg/market"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsTestServer accepts websocket connections, drains client frames,
// and holds each connection open until the server shuts down.
func wsTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCoinexClient(t *testing.T, url string) *CoinexClient {
	t.Helper()
	ix := NewIndex(&staticLister{instruments: []market.Instrument{
		{ID: 1, Name: "BTCUSDT", Collecting: true},
	}}, zap.NewNop())
	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewCoinexClient(url, ix, nil, zap.NewNop())
}

func TestCoinexListenStopsOnCancel(t *testing.T) {
	srv := wsTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := newTestCoinexClient(t, wsURL)
	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Listen(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestCoinexStopSurvivesConnSwap(t *testing.T) {
	srv := wsTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := newTestCoinexClient(t, wsURL)
	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Swap in a fresh connection as the reconnect path does, then stop.
	// The stop must close the live connection, not the replaced one.
	if err := client.reconnectAndResubscribe(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	client.stop()
	if conn := client.current(); conn != nil {
		t.Fatal("stopped client still exposes a connection")
	}

	// A reconnect attempt after stop must refuse to resurrect the client.
	if err := client.reconnectAndResubscribe(); err == nil {
		t.Fatal("reconnect after stop should fail")
	}
}

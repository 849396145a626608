package history

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mimbot/tradingcore/internal/store"
	"go.uber.org/zap"
)

func TestPreloadWritesClosedCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			[1000,"100.0","101.0","99.0","100.5","10.0",1059,"0","0","0","0","0"],
			[2000,"100.5","102.0","100.0","101.5","12.0",2059,"0","0","0","0","0"]
		]`)
	}))
	defer srv.Close()

	loader := NewLoader(zap.NewNop(), 5).WithBaseURL(srv.URL)
	s := store.NewMemoryStore(200)

	loader.Preload(context.Background(), s, []string{"BTCUSDT"}, []string{"1m"}, 250)

	rows := s.GetCandles("BTCUSDT", "1m")
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0][4] != 100.5 || rows[1][4] != 101.5 {
		t.Errorf("close prices = %v, %v, want 100.5, 101.5", rows[0][4], rows[1][4])
	}
}

func TestPreloadSkipsFailingPairWithoutAborting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "BADUSDT" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[[1000,"1","1","1","1","1",1059,"0","0","0","0","0"]]`)
	}))
	defer srv.Close()

	loader := NewLoader(zap.NewNop(), 5).WithBaseURL(srv.URL)
	s := store.NewMemoryStore(200)

	done := make(chan struct{})
	go func() {
		loader.Preload(context.Background(), s, []string{"BADUSDT", "BTCUSDT"}, []string{"1m"}, 250)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Preload did not complete")
	}

	if len(s.GetCandles("BADUSDT", "1m")) != 0 {
		t.Error("BADUSDT should have no candles after a failed fetch")
	}
	if len(s.GetCandles("BTCUSDT", "1m")) != 1 {
		t.Error("BTCUSDT should still be preloaded despite BADUSDT's failure")
	}
}

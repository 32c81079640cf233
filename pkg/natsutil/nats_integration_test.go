//go:build integration

package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestNATS_PubSub(t *testing.T) {
	nc := connectNATS(t)

	type event struct {
		RunID string `json:"run_id"`
		Stage string `json:"stage"`
	}

	ch := make(chan event, 1)
	sub, err := Subscribe(nc, "integ.progress", func(_ context.Context, ev event) {
		ch <- ev
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "integ.progress", event{RunID: "r1", Stage: "extract"}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.RunID != "r1" || got.Stage != "extract" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestNATS_MalformedDropped(t *testing.T) {
	nc := connectNATS(t)

	type event struct {
		RunID string `json:"run_id"`
	}

	ch := make(chan event, 1)
	sub, err := Subscribe(nc, "integ.malformed", func(_ context.Context, ev event) {
		ch <- ev
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("integ.malformed", []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		t.Fatalf("malformed message should be dropped, got %+v", got)
	case <-time.After(500 * time.Millisecond):
	}
}

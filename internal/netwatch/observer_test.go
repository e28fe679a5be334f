package netwatch

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/scope"
	"go.uber.org/zap"
)

func TestInitialProbeIsSynchronous(t *testing.T) {
	b := bus.New()
	var calls atomic.Int32
	o := New(context.Background(), Options{Prober: func(context.Context) bool {
		calls.Add(1)
		return false
	}}, b, zap.NewNop())

	if calls.Load() != 1 {
		t.Fatalf("probe calls = %d, want 1", calls.Load())
	}
	if o.Reachable() {
		t.Error("Reachable() = true, want false")
	}
	evt, ok := b.Latest(bus.KindReachable)
	if !ok || evt.Payload != false {
		t.Errorf("latest = %v (ok=%v), want false", evt.Payload, ok)
	}
}

func TestSetPublishesOnlyChanges(t *testing.T) {
	b := bus.New()
	o := New(context.Background(), Options{}, b, nil)

	ch, unsub := b.Subscribe(bus.KindReachable, 10)
	defer unsub()
	<-ch // replayed initial value

	o.Set(true)
	o.Set(false)
	o.Set(false)

	var got []any
	timeout := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case evt := <-ch:
			got = append(got, evt.Payload)
		case <-timeout:
			break loop
		}
	}
	if len(got) != 1 || got[0] != false {
		t.Errorf("published = %v, want [false]", got)
	}
}

func TestStartFollowsProbe(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	o := New(context.Background(), Options{
		Interval: 5 * time.Millisecond,
		Prober:   func(context.Context) bool { return up.Load() },
	}, bus.New(), nil)

	sc := scope.New(context.Background(), nil)
	defer sc.Close()
	o.Start(sc)

	up.Store(false)
	deadline := time.Now().Add(time.Second)
	for o.Reachable() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if o.Reachable() {
		t.Error("observer did not pick up the probe change")
	}
}

func TestDialProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !DialProber(addr)(ctx) {
		t.Error("probe against open listener = false")
	}

	_ = ln.Close()
	if DialProber(addr)(ctx) {
		t.Error("probe against closed listener = true")
	}
}

func TestEndpointAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"wss://demo.piesocket.com/v3/1?api_key=k", "demo.piesocket.com:443", false},
		{"ws://localhost:8080/ws", "localhost:8080", false},
		{"ws://example.com", "example.com:80", false},
		{"ftp://example.com", "", true},
		{"/relative", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := EndpointAddr(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EndpointAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stubDispatcher records dispatched requests and can delay per command id to
// simulate slow actions.
type stubDispatcher struct {
	mu     sync.Mutex
	seen   []CommandRequest
	delays map[string]time.Duration
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req CommandRequest) CommandResult {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	delay := s.delays[req.CommandID]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return newResult(req, OutcomeSuccess, "")
}

func TestRunDaemon_OneReplyPerRequest(t *testing.T) {
	disp := &stubDispatcher{}
	requests := make(chan inboundRequest)

	done := make(chan struct{})
	go func() {
		runDaemon(context.Background(), requests, disp, time.Second, testLogger())
		close(done)
	}()

	var mu sync.Mutex
	replies := make(map[string]int)
	for i, id := range []string{CmdNTPSync, CmdSSHStatus, CmdVolumeGet} {
		req := CommandRequest{CommandID: id, CorrelationID: string(rune('a' + i))}
		requests <- inboundRequest{
			req: req,
			reply: func(res CommandResult) {
				mu.Lock()
				replies[res.CorrelationID]++
				mu.Unlock()
			},
		}
	}

	close(requests)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after channel close")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(replies) != 3 {
		t.Fatalf("expected 3 distinct replies, got %d", len(replies))
	}
	for id, n := range replies {
		if n != 1 {
			t.Errorf("request %q got %d replies, want exactly 1", id, n)
		}
	}
}

func TestRunDaemon_SlowCommandDoesNotBlockOthers(t *testing.T) {
	disp := &stubDispatcher{delays: map[string]time.Duration{CmdNTPSync: 500 * time.Millisecond}}
	requests := make(chan inboundRequest)

	go runDaemon(context.Background(), requests, disp, time.Second, testLogger())

	fastDone := make(chan time.Time, 1)
	slowDone := make(chan time.Time, 1)

	start := time.Now()
	requests <- inboundRequest{
		req:   CommandRequest{CommandID: CmdNTPSync, CorrelationID: "slow"},
		reply: func(CommandResult) { slowDone <- time.Now() },
	}
	requests <- inboundRequest{
		req:   CommandRequest{CommandID: CmdVolumeGet, CorrelationID: "fast"},
		reply: func(CommandResult) { fastDone <- time.Now() },
	}

	select {
	case at := <-fastDone:
		if elapsed := at.Sub(start); elapsed > 300*time.Millisecond {
			t.Errorf("fast command waited %v behind a slow one", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast command never completed")
	}

	select {
	case <-slowDone:
	case <-time.After(2 * time.Second):
		t.Fatal("slow command never completed")
	}
	close(requests)
}

func TestRunDaemon_DrainsInFlightOnCancel(t *testing.T) {
	disp := &stubDispatcher{delays: map[string]time.Duration{CmdServiceRestart: 200 * time.Millisecond}}
	requests := make(chan inboundRequest)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runDaemon(ctx, requests, disp, 2*time.Second, testLogger())
		close(done)
	}()

	replied := make(chan struct{})
	requests <- inboundRequest{
		req:   CommandRequest{CommandID: CmdServiceRestart},
		reply: func(CommandResult) { close(replied) },
	}

	// Cancel while the command is still running; the drain must let it
	// finish and deliver its reply.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-replied:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight command was dropped during shutdown")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

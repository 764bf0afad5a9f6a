package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/monitor"
)

// Step is one scripted handshake outcome
type Step struct {
	Hello *Hello
	RTT   time.Duration
	Err   error
	// Block makes the handshake wait until its context ends
	Block bool
}

// ScriptedHandshaker is a monitor.Handshaker answering from per-address
// scripts. Steps are consumed in order; the last step repeats once the
// script is exhausted.
type ScriptedHandshaker struct {
	mu      sync.Mutex
	scripts map[address.Address][]Step
	last    map[address.Address]Step
	calls   map[address.Address]int
	closed  bool
	called  chan address.Address
}

// NewScriptedHandshaker creates an empty handshaker
func NewScriptedHandshaker() *ScriptedHandshaker {
	return &ScriptedHandshaker{
		scripts: map[address.Address][]Step{},
		last:    map[address.Address]Step{},
		calls:   map[address.Address]int{},
		called:  make(chan address.Address, 1024),
	}
}

// Script appends steps for addr
func (s *ScriptedHandshaker) Script(addr string, steps ...Step) {
	a := address.MustParse(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[a] = append(s.scripts[a], steps...)
}

// Set discards any pending steps for addr and answers with step from now on
func (s *ScriptedHandshaker) Set(addr string, step Step) {
	a := address.MustParse(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scripts, a)
	s.last[a] = step
}

// Handshake implements monitor.Handshaker
func (s *ScriptedHandshaker) Handshake(ctx context.Context, addr address.Address) (*monitor.Reply, error) {
	s.mu.Lock()
	s.calls[addr]++
	step, ok := s.last[addr]
	if queue := s.scripts[addr]; len(queue) > 0 {
		step, ok = queue[0], true
		s.scripts[addr] = queue[1:]
		s.last[addr] = step
	}
	s.mu.Unlock()

	select {
	case s.called <- addr:
	default:
	}

	if !ok {
		return nil, fmt.Errorf("no script for %s", addr)
	}
	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Hello == nil {
		return nil, fmt.Errorf("step for %s has no reply", addr)
	}
	return &monitor.Reply{Document: step.Hello.Raw(), RTT: step.RTT}, nil
}

// Calls returns how many handshakes addr received
func (s *ScriptedHandshaker) Calls(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[address.MustParse(addr)]
}

// Called receives the address of every handshake, when the buffer has room
func (s *ScriptedHandshaker) Called() <-chan address.Address {
	return s.called
}

// Close marks the handshaker closed
func (s *ScriptedHandshaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *ScriptedHandshaker) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory returns a per-address handshaker constructor that shares s
func (s *ScriptedHandshaker) Factory() func(address.Address) monitor.Handshaker {
	return func(address.Address) monitor.Handshaker {
		return sharedHandshaker{s}
	}
}

// sharedHandshaker hides Close so stopping one monitor does not mark the
// shared script closed
type sharedHandshaker struct {
	s *ScriptedHandshaker
}

func (h sharedHandshaker) Handshake(ctx context.Context, addr address.Address) (*monitor.Reply, error) {
	return h.s.Handshake(ctx, addr)
}

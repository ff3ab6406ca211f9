// Package cartagetest provides an in-memory cartage.Store that records every
// call and can be told to fail, for tests of code built on cartage.
package cartagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/shopspring/decimal"
)

// LineState is the stored form of a line.
type LineState struct {
	Info       cartage.LineInfo
	Attributes map[string]string
}

// CartState is the stored form of a cart.
type CartState struct {
	Info  cartage.CartInfo
	Lines []LineState
}

// State is the whole store content keyed by cart identifier.
type State map[string]CartState

func (s State) clone() State {
	out := make(State, len(s))
	for id, c := range s {
		lines := make([]LineState, len(c.Lines))
		for i, l := range c.Lines {
			attrs := make(map[string]string, len(l.Attributes))
			for k, v := range l.Attributes {
				attrs[k] = v
			}
			lines[i] = LineState{Info: l.Info, Attributes: attrs}
		}
		out[id] = CartState{Info: c.Info, Lines: lines}
	}
	return out
}

// Memory is a StoreProvider whose sessions share one in-memory state.
type Memory struct {
	mu       sync.Mutex
	state    State
	calls    []string
	failures map[string]error
	clock    func() time.Time
}

var _ cartage.StoreProvider = (*Memory)(nil)

// NewMemory returns an empty store. clock may be nil for time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{
		state:    State{},
		failures: map[string]error{},
		clock:    clock,
	}
}

// Session opens a session and records the call as "Session".
func (m *Memory) Session(ctx context.Context) (cartage.Store, error) {
	if err := m.record("Session"); err != nil {
		return nil, err
	}
	return &session{m: m}, nil
}

// FailOn makes every later call to method return err. A nil err clears it.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns the method names called so far, in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ResetCalls forgets the recorded calls.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Snapshot returns a deep copy of the stored state.
func (m *Memory) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// SetTimestamps overwrites the created and last modified times of a cart.
func (m *Memory) SetTimestamps(cart string, created, lastModified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state[cart]
	if !ok {
		return
	}
	c.Info.Created = created
	c.Info.LastModified = lastModified
	m.state[cart] = c
}

func (m *Memory) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	return m.failures[method]
}

type session struct {
	m      *Memory
	backup State
	closed bool
}

func (s *session) call(method string, fn func(state State) error) error {
	if err := s.m.record(method); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("cartagetest: %s on closed session", method)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return fn(s.m.state)
}

func (s *session) touch(state State, cart, user string) error {
	c, ok := state[cart]
	if !ok {
		return fmt.Errorf("cartagetest: cart %q does not exist", cart)
	}
	c.Info.LastModified = s.m.clock()
	c.Info.LastModifyUser = user
	state[cart] = c
	return nil
}

func lineIndex(c CartState, id string) int {
	for i, l := range c.Lines {
		if l.Info.Identifier == id {
			return i
		}
	}
	return -1
}

func (s *session) CartExists(id string) (bool, error) {
	var exists bool
	err := s.call("CartExists", func(state State) error {
		_, exists = state[id]
		return nil
	})
	return exists, err
}

func (s *session) RegisterCart(id, user string) error {
	return s.call("RegisterCart", func(state State) error {
		if _, ok := state[id]; ok {
			return fmt.Errorf("cartagetest: duplicate cart %q", id)
		}
		now := s.m.clock()
		state[id] = CartState{Info: cartage.CartInfo{
			Identifier:     id,
			Created:        now,
			CreateUser:     user,
			LastModified:   now,
			LastModifyUser: user,
		}}
		return nil
	})
}

func (s *session) DeleteCart(id, user string) error {
	return s.call("DeleteCart", func(state State) error {
		delete(state, id)
		return nil
	})
}

func (s *session) GetCart(id string) (cartage.CartInfo, bool, error) {
	var (
		info cartage.CartInfo
		ok   bool
	)
	err := s.call("GetCart", func(state State) error {
		var c CartState
		c, ok = state[id]
		info = c.Info
		return nil
	})
	return info, ok, err
}

func (s *session) GetCarts(creation, modification *cartage.Range) ([]cartage.CartInfo, error) {
	var carts []cartage.CartInfo
	err := s.call("GetCarts", func(state State) error {
		for _, c := range state {
			if cartage.InRanges(c.Info, creation, modification) {
				carts = append(carts, c.Info)
			}
		}
		return nil
	})
	sort.Slice(carts, func(i, j int) bool {
		return carts[i].Created.Before(carts[j].Created)
	})
	return carts, err
}

func (s *session) InsertLine(cart, id, productCode string, quantity decimal.Decimal, user string) error {
	return s.call("InsertLine", func(state State) error {
		c, ok := state[cart]
		if !ok {
			return fmt.Errorf("cartagetest: cart %q does not exist", cart)
		}
		if lineIndex(c, id) >= 0 {
			return fmt.Errorf("cartagetest: duplicate line %q", id)
		}
		c.Lines = append(c.Lines, LineState{
			Info:       cartage.LineInfo{Identifier: id, ProductCode: productCode, Quantity: quantity},
			Attributes: map[string]string{},
		})
		state[cart] = c
		return s.touch(state, cart, user)
	})
}

func (s *session) UpdateLine(cart, id string, quantity decimal.Decimal, user string) error {
	return s.call("UpdateLine", func(state State) error {
		c := state[cart]
		i := lineIndex(c, id)
		if i < 0 {
			return fmt.Errorf("cartagetest: line %q does not exist", id)
		}
		c.Lines[i].Info.Quantity = quantity
		return s.touch(state, cart, user)
	})
}

func (s *session) DeleteLine(cart, id, user string) error {
	return s.call("DeleteLine", func(state State) error {
		c := state[cart]
		if i := lineIndex(c, id); i >= 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			state[cart] = c
		}
		return s.touch(state, cart, user)
	})
}

func (s *session) DeleteLines(cart, user string) error {
	return s.call("DeleteLines", func(state State) error {
		c := state[cart]
		c.Lines = nil
		state[cart] = c
		return s.touch(state, cart, user)
	})
}

func (s *session) LineExists(cart, id string) (bool, error) {
	var exists bool
	err := s.call("LineExists", func(state State) error {
		exists = lineIndex(state[cart], id) >= 0
		return nil
	})
	return exists, err
}

func (s *session) GetLine(cart, id string) (cartage.LineInfo, error) {
	var info cartage.LineInfo
	err := s.call("GetLine", func(state State) error {
		c := state[cart]
		i := lineIndex(c, id)
		if i < 0 {
			return fmt.Errorf("cartagetest: line %q does not exist", id)
		}
		info = c.Lines[i].Info
		return nil
	})
	return info, err
}

func (s *session) GetLines(cart string) ([]cartage.LineInfo, error) {
	var lines []cartage.LineInfo
	err := s.call("GetLines", func(state State) error {
		for _, l := range state[cart].Lines {
			lines = append(lines, l.Info)
		}
		return nil
	})
	return lines, err
}

func (s *session) InsertLineAttribute(cart, line, name, value, user string) error {
	return s.call("InsertLineAttribute", func(state State) error {
		c := state[cart]
		i := lineIndex(c, line)
		if i < 0 {
			return fmt.Errorf("cartagetest: line %q does not exist", line)
		}
		if _, ok := c.Lines[i].Attributes[name]; ok {
			return fmt.Errorf("cartagetest: duplicate attribute %q", name)
		}
		c.Lines[i].Attributes[name] = value
		return s.touch(state, cart, user)
	})
}

func (s *session) SetLineAttribute(cart, line, name, value, user string) error {
	return s.call("SetLineAttribute", func(state State) error {
		c := state[cart]
		i := lineIndex(c, line)
		if i < 0 {
			return fmt.Errorf("cartagetest: line %q does not exist", line)
		}
		c.Lines[i].Attributes[name] = value
		return s.touch(state, cart, user)
	})
}

func (s *session) DeleteLineAttribute(cart, line, name, user string) error {
	return s.call("DeleteLineAttribute", func(state State) error {
		c := state[cart]
		if i := lineIndex(c, line); i >= 0 {
			delete(c.Lines[i].Attributes, name)
		}
		return s.touch(state, cart, user)
	})
}

func (s *session) GetLineAttributes(cart, line string) (map[string]cartage.AttributeInfo, error) {
	attrs := map[string]cartage.AttributeInfo{}
	err := s.call("GetLineAttributes", func(state State) error {
		c := state[cart]
		if i := lineIndex(c, line); i >= 0 {
			for k, v := range c.Lines[i].Attributes {
				attrs[k] = cartage.AttributeInfo{Name: k, Value: v}
			}
		}
		return nil
	})
	return attrs, err
}

func (s *session) SetCartFinalized(cart, user string) error {
	return s.call("SetCartFinalized", func(state State) error {
		c, ok := state[cart]
		if !ok {
			return fmt.Errorf("cartagetest: cart %q does not exist", cart)
		}
		c.Info.Finalized = true
		state[cart] = c
		return s.touch(state, cart, user)
	})
}

func (s *session) BeginTransaction() error {
	return s.call("BeginTransaction", func(state State) error {
		if s.backup != nil {
			return fmt.Errorf("cartagetest: transaction already open")
		}
		s.backup = state.clone()
		return nil
	})
}

func (s *session) CommitTransaction() error {
	return s.call("CommitTransaction", func(state State) error {
		if s.backup == nil {
			return fmt.Errorf("cartagetest: no open transaction")
		}
		s.backup = nil
		return nil
	})
}

func (s *session) RollbackTransaction() error {
	return s.call("RollbackTransaction", func(state State) error {
		if s.backup != nil {
			s.m.state = s.backup
			s.backup = nil
		}
		return nil
	})
}

func (s *session) Close() error {
	err := s.call("Close", func(state State) error {
		if s.backup != nil {
			s.m.state = s.backup
			s.backup = nil
		}
		return nil
	})
	s.closed = true
	return err
}

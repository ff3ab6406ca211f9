package cartagetest

import (
	"sync"

	"github.com/ikkim/cartage/pkg/cartage"
)

// Check is one authorization request seen by a Principal.
type Check struct {
	Action  string
	Objects []string
	Context map[string]string
}

// Principal is a user that allows every action except the denied ones. It is
// also its own SecurityManager.
type Principal struct {
	mu     sync.Mutex
	id     string
	denied map[string]bool
	checks []Check
}

var (
	_ cartage.User            = (*Principal)(nil)
	_ cartage.SecurityManager = (*Principal)(nil)
)

// NewPrincipal returns a principal identified by id.
func NewPrincipal(id string) *Principal {
	return &Principal{id: id, denied: map[string]bool{}}
}

// Deny refuses the given actions from now on.
func (p *Principal) Deny(actions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range actions {
		p.denied[a] = true
	}
}

// Allow lifts an earlier Deny.
func (p *Principal) Allow(actions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range actions {
		delete(p.denied, a)
	}
}

// Checks returns the authorization requests seen so far.
func (p *Principal) Checks() []Check {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Check(nil), p.checks...)
}

func (p *Principal) CurrentUser() cartage.User {
	return p
}

func (p *Principal) Identity() cartage.Identity {
	return cartage.Identity{Identifier: p.id}
}

func (p *Principal) UserIsAuthorized(action string, objects []string, context map[string]string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, Check{Action: action, Objects: objects, Context: context})
	return !p.denied[action]
}

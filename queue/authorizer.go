package queue

import (
	"sync"

	"github.com/xraph/crank/ledger"
)

// Authorizer decides which signatories may kick off and crank queues.
type Authorizer interface {
	Authorized(signatory ledger.Address) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(signatory ledger.Address) bool

// Authorized implements Authorizer.
func (f AuthorizerFunc) Authorized(signatory ledger.Address) bool { return f(signatory) }

// AllowAll authorizes every signatory.
var AllowAll Authorizer = AuthorizerFunc(func(ledger.Address) bool { return true })

// Pool is a static set of authorized signatories. Safe for concurrent
// use.
type Pool struct {
	mu      sync.RWMutex
	members map[ledger.Address]struct{}
}

// NewPool returns a pool containing signatories.
func NewPool(signatories ...ledger.Address) *Pool {
	p := &Pool{members: make(map[ledger.Address]struct{}, len(signatories))}
	for _, s := range signatories {
		p.members[s] = struct{}{}
	}
	return p
}

// Add admits a signatory.
func (p *Pool) Add(signatory ledger.Address) {
	p.mu.Lock()
	p.members[signatory] = struct{}{}
	p.mu.Unlock()
}

// Remove revokes a signatory.
func (p *Pool) Remove(signatory ledger.Address) {
	p.mu.Lock()
	delete(p.members, signatory)
	p.mu.Unlock()
}

// Authorized implements Authorizer.
func (p *Pool) Authorized(signatory ledger.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.members[signatory]
	return ok
}

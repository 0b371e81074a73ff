// Package cart holds the client-side cart snapshot and funnels every cart mutation through the remote API.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/api"
	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
	"github.com/and161185/shopcart/internal/session"
)

// API is the subset of the REST client the store calls.
type API interface {
	FetchCart(ctx context.Context, sc api.Scope) (api.CartResponse, error)
	AddItem(ctx context.Context, sc api.Scope, productID int64, quantity int) (api.CartResponse, error)
	UpdateItem(ctx context.Context, sc api.Scope, productID int64, quantity int) (model.LineItem, error)
	RemoveItem(ctx context.Context, sc api.Scope, productID int64) error
	ClearCart(ctx context.Context, sc api.Scope) error
}

// Identity resolves the current bearer token, "" for guests.
type Identity interface {
	AccessToken() string
}

// Phase is the lifecycle position of a store.
type Phase int

const (
	Uninitialized Phase = iota
	Loading
	Ready
	Reinitializing
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Reinitializing:
		return "reinitializing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Status reports the phase plus whether any operation is in flight.
type Status struct {
	Phase    Phase
	Mutating bool
}

// lineState tracks the writes of one product line. It outlives its in-flight writes so that a
// whole-cart response issued before the last confirmed write cannot bring back an older line.
// seq and confirmedSeq come from the store-wide operation counter.
type lineState struct {
	seq          uint64 // latest issued write
	pending      int
	confirmed    *model.LineItem // nil = absent on the server
	confirmedSeq uint64          // operation that produced confirmed
	want         int             // tentative quantity of the latest optimistic update
}

type subscriber struct {
	mu   sync.Mutex
	last uint64
	fn   func(model.Cart)
}

// deliver hands c to fn unless a newer snapshot already went out.
func (sub *subscriber) deliver(version uint64, c model.Cart) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if version <= sub.last {
		return
	}
	sub.last = version
	sub.fn(c)
}

// Store owns the local cart snapshot. It is safe for concurrent use.
type Store struct {
	api  API
	id   Identity
	sess session.Holder
	log  *zap.Logger

	mu       sync.Mutex
	phase    Phase
	loaded   bool
	inflight int
	gen      uint64 // bumped on every identity switch
	opSeq    uint64 // last issued operation, whole-cart and per-line alike
	applied  uint64 // last applied whole-cart operation
	version  uint64 // last published snapshot
	cart     model.Cart
	lines    map[int64]*lineState

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// NewStore wires a store to its collaborators. A nil logger means no logging.
func NewStore(client API, id Identity, sess session.Holder, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		api:   client,
		id:    id,
		sess:  sess,
		log:   log,
		lines: make(map[int64]*lineState),
		subs:  make(map[int]*subscriber),
	}
}

// ---- read side ----

// State returns the current phase and mutation flag.
func (s *Store) State() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Phase: s.phase, Mutating: s.inflight > 0}
}

// Snapshot returns a deep copy of the visible cart.
func (s *Store) Snapshot() model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Item returns the visible line of productID.
func (s *Store) Item(productID int64) (model.LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.cart.Find(productID); i >= 0 {
		return s.cart.Items[i], true
	}
	return model.LineItem{}, false
}

// Total sums quantity × unit price over the visible lines. No I/O.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Total()
}

// Subscribe registers fn to receive a copy of the cart after each change.
// Calls to fn are serialized and never go back in time: a snapshot older than one already
// delivered is skipped. fn must not call mutating store methods synchronously.
// The returned func unregisters it.
func (s *Store) Subscribe(fn func(model.Cart)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{fn: fn}
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish() {
	s.mu.Lock()
	s.version++
	version, snap := s.version, s.cart.Clone()
	s.mu.Unlock()

	s.subMu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.deliver(version, snap.Clone())
	}
}

// ---- identity ----

// scope must be called with mu held.
func (s *Store) scope() api.Scope {
	if tok := s.id.AccessToken(); tok != "" {
		return api.Scope{AccessToken: tok}
	}
	return api.Scope{SessionID: s.sess.Get()}
}

func (s *Store) adoptSession(sc api.Scope, minted *string) {
	if !sc.Guest() || minted == nil || *minted == "" {
		return
	}
	if *minted != s.sess.Get() {
		s.log.Debug("server issued guest session", zap.String("session_id", *minted))
		s.sess.Set(*minted)
	}
}

// Reinitialize drops the snapshot and every in-flight result ahead of an identity switch.
// The next FetchOrCreate loads the cart of the new identity.
func (s *Store) Reinitialize() {
	s.mu.Lock()
	s.resetLocked()
	s.phase = Reinitializing
	s.mu.Unlock()
	s.publish()
}

// Reset empties the local view without touching the server.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.phase = Uninitialized
	s.loaded = false
	s.mu.Unlock()
	s.publish()
}

func (s *Store) resetLocked() {
	s.gen++
	s.applied = s.opSeq
	s.cart = model.Cart{}
	s.lines = make(map[int64]*lineState)
}

// ---- whole-cart operations ----

type wholeOp struct {
	gen uint64
	seq uint64
	sc  api.Scope
}

// beginWhole must be called with mu held.
func (s *Store) beginWhole() wholeOp {
	s.opSeq++
	s.inflight++
	return wholeOp{gen: s.gen, seq: s.opSeq, sc: s.scope()}
}

// applyCart replaces the snapshot when op is still current. A line confirmed by a write issued
// after op keeps its confirmed value, and writes issued after op keep their tentative quantity.
// Must be called with mu held.
func (s *Store) applyCart(op wholeOp, c model.Cart) bool {
	if op.gen != s.gen || op.seq <= s.applied {
		return false
	}
	s.applied = op.seq
	next := c.Clone()
	if next.Items == nil {
		next.Items = []model.LineItem{}
	}
	for pid, ls := range s.lines {
		i := next.Find(pid)
		switch {
		case ls.confirmedSeq > op.seq && ls.confirmed == nil:
			if i >= 0 {
				next.Items = append(next.Items[:i:i], next.Items[i+1:]...)
				i = -1
			}
		case ls.confirmedSeq > op.seq:
			if i >= 0 {
				next.Items[i] = *ls.confirmed
			} else {
				next.Items = append(next.Items, *ls.confirmed)
				i = len(next.Items) - 1
			}
		case i >= 0:
			li := next.Items[i]
			ls.confirmed, ls.confirmedSeq = &li, op.seq
		default:
			ls.confirmed, ls.confirmedSeq = nil, op.seq
		}
		if ls.pending > 0 && ls.seq > op.seq && ls.want > 0 && i >= 0 {
			next.Items[i].Quantity = ls.want
		}
	}
	s.cart = next
	s.loaded = true
	return true
}

// FetchOrCreate loads the cart of the current identity, creating it server-side when absent.
// On failure the snapshot is left as is.
func (s *Store) FetchOrCreate(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != Ready {
		s.phase = Loading
	}
	op := s.beginWhole()
	s.mu.Unlock()

	resp, err := s.api.FetchCart(ctx, op.sc)

	s.mu.Lock()
	s.inflight--
	if op.gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	if err == nil {
		err = resp.Cart.Validate()
	}
	if err != nil {
		if s.phase == Loading && !s.loaded {
			s.phase = Uninitialized
		} else {
			s.phase = Ready
		}
		s.mu.Unlock()
		s.log.Warn("fetch cart failed", zap.Bool("guest", op.sc.Guest()), zap.Error(err))
		return fmt.Errorf("fetch cart: %w", err)
	}
	s.adoptSession(op.sc, resp.SessionID)
	s.applyCart(op, *resp.Cart)
	s.phase = Ready
	s.mu.Unlock()

	s.publish()
	return nil
}

// AddItem adds quantity of productID (0 means 1). The server's cart replaces the snapshot.
func (s *Store) AddItem(ctx context.Context, productID int64, quantity int) error {
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return errs.ErrInvalidQuantity
	}

	s.mu.Lock()
	op := s.beginWhole()
	s.mu.Unlock()

	resp, err := s.api.AddItem(ctx, op.sc, productID, quantity)

	s.mu.Lock()
	s.inflight--
	if err == nil {
		err = resp.Cart.Validate()
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Info("add item failed", zap.Int64("product_id", productID), zap.Error(err))
		return fmt.Errorf("add item %d: %w", productID, err)
	}
	if op.gen == s.gen {
		s.adoptSession(op.sc, resp.SessionID)
		if s.applyCart(op, *resp.Cart) && s.phase != Ready {
			s.phase = Ready
		}
	}
	s.mu.Unlock()

	s.publish()
	return nil
}

// Clear empties the cart once the server confirms.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	op := s.beginWhole()
	s.mu.Unlock()

	err := s.api.ClearCart(ctx, op.sc)

	s.mu.Lock()
	s.inflight--
	if err != nil {
		s.mu.Unlock()
		s.log.Info("clear cart failed", zap.Error(err))
		return fmt.Errorf("clear cart: %w", err)
	}
	if op.gen == s.gen {
		empty := s.cart.Clone()
		empty.Items = nil
		s.applyCart(op, empty)
	}
	s.mu.Unlock()

	s.publish()
	return nil
}

// Adopt replaces the snapshot with c, e.g. the cart returned by a merge.
func (s *Store) Adopt(c model.Cart) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	op := s.beginWhole()
	s.inflight--
	s.applyCart(op, c)
	s.phase = Ready
	s.mu.Unlock()

	s.publish()
	return nil
}

// ---- per-line operations ----

// line must be called with mu held.
func (s *Store) line(productID int64) *lineState {
	if ls, ok := s.lines[productID]; ok {
		return ls
	}
	ls := &lineState{confirmedSeq: s.applied}
	if i := s.cart.Find(productID); i >= 0 {
		li := s.cart.Items[i]
		ls.confirmed = &li
	}
	s.lines[productID] = ls
	return ls
}

func (s *Store) setLine(li model.LineItem) {
	if i := s.cart.Find(li.ProductID); i >= 0 {
		s.cart.Items[i] = li
		return
	}
	s.cart.Items = append(s.cart.Items, li)
}

func (s *Store) dropLine(productID int64) {
	if i := s.cart.Find(productID); i >= 0 {
		s.cart.Items = append(s.cart.Items[:i:i], s.cart.Items[i+1:]...)
	}
}

func (s *Store) showConfirmed(productID int64, ls *lineState) {
	if ls.confirmed == nil {
		s.dropLine(productID)
		return
	}
	s.setLine(*ls.confirmed)
}

// settle records the outcome of write seq on productID. result nil means the line is gone server-side.
// Must be called with mu held.
func (s *Store) settle(gen uint64, productID int64, seq uint64, result *model.LineItem, failed bool) {
	if gen != s.gen {
		return
	}
	ls, ok := s.lines[productID]
	if !ok {
		return
	}
	ls.pending--
	if !failed && seq > ls.confirmedSeq {
		ls.confirmed, ls.confirmedSeq = result, seq
	}
	// A success of the latest write shows its result, a failure reverts to the last confirmed line.
	// Older writes only update the confirmed value.
	if seq == ls.seq || ls.pending == 0 {
		s.showConfirmed(productID, ls)
	}
}

// UpdateQuantity sets productID to quantity, optimistically.
// quantity < 1 is rejected without a request; use RemoveItem instead.
// On failure the line returns to its last confirmed value.
func (s *Store) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return errs.ErrInvalidQuantity
	}

	s.mu.Lock()
	i := s.cart.Find(productID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("update item %d: %w", productID, errs.ErrNotFound)
	}
	ls := s.line(productID)
	s.opSeq++
	ls.seq = s.opSeq
	ls.pending++
	ls.want = quantity
	seq, gen, sc := ls.seq, s.gen, s.scope()
	s.cart.Items[i].Quantity = quantity
	s.inflight++
	s.mu.Unlock()
	s.publish()

	li, err := s.api.UpdateItem(ctx, sc, productID, quantity)

	s.mu.Lock()
	s.inflight--
	switch {
	case err == nil:
		s.settle(gen, productID, seq, &li, false)
	case errors.Is(err, errs.ErrNotFound):
		s.settle(gen, productID, seq, nil, false)
	default:
		s.settle(gen, productID, seq, nil, true)
	}
	s.mu.Unlock()
	s.publish()

	if err != nil {
		s.log.Info("update item failed", zap.Int64("product_id", productID), zap.Int("quantity", quantity), zap.Error(err))
		return fmt.Errorf("update item %d: %w", productID, err)
	}
	return nil
}

// RemoveItem deletes the line of productID once the server confirms.
// An absent product is a no-op, and a server-side 404 counts as removed.
func (s *Store) RemoveItem(ctx context.Context, productID int64) error {
	s.mu.Lock()
	if s.cart.Find(productID) < 0 {
		s.mu.Unlock()
		return nil
	}
	ls := s.line(productID)
	s.opSeq++
	ls.seq = s.opSeq
	ls.pending++
	ls.want = 0
	seq, gen, sc := ls.seq, s.gen, s.scope()
	s.inflight++
	s.mu.Unlock()

	err := s.api.RemoveItem(ctx, sc, productID)
	if errors.Is(err, errs.ErrNotFound) {
		err = nil
	}

	s.mu.Lock()
	s.inflight--
	s.settle(gen, productID, seq, nil, err != nil)
	s.mu.Unlock()
	s.publish()

	if err != nil {
		s.log.Info("remove item failed", zap.Int64("product_id", productID), zap.Error(err))
		return fmt.Errorf("remove item %d: %w", productID, err)
	}
	return nil
}

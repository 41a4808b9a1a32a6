package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/goroutine"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("reconcile: orchestrator closed")

// Dependencies are the ports one orchestrator drives.
type Dependencies struct {
	Authority Authority
	Store     Store
	Cache     Cache
	Catalog   *Catalog
	Clock     biztime.Clock
}

type opKind int

const (
	opCheck opKind = iota
	opVerify
	opRestore
	opLogout
)

type checkMode int

const (
	// modeStart shows a positive cache entry while the authority answers.
	modeStart checkMode = iota
	// modeRefresh ignores the cache and fails closed.
	modeRefresh
	// modeRevalidate keeps the current view if the authority is unreachable.
	modeRevalidate
)

type command struct {
	ctx         context.Context
	kind        opKind
	mode        checkMode
	tx          entitlement.Transaction
	productType entitlement.ProductType
	result      chan result
}

type result struct {
	view entitlement.View
	err  error
}

// flight is a verify or restore the loop is running. Checks that arrive
// meanwhile wait for it instead of issuing their own fetch.
type flight struct {
	done chan struct{}
	view entitlement.View
}

// Orchestrator owns the entitlement state of a single user. All transitions
// happen on one goroutine; public methods submit commands to it and wait.
type Orchestrator struct {
	userID    string
	authority Authority
	store     Store
	cache     Cache
	catalog   *Catalog
	clock     biztime.Clock
	opts      Options
	logger    logger.Interface

	cmds      chan command
	stop      chan struct{}
	loopDone  <-chan struct{}
	closeOnce sync.Once

	group singleflight.Group

	mu            sync.RWMutex
	state         State
	view          entitlement.View
	busy          *flight
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	subMu sync.Mutex
	subs  map[chan entitlement.View]struct{}

	// owned by the loop goroutine
	retryBackOff *backoff.ExponentialBackOff
	retryStarted time.Time
	retryTimer   *time.Timer
	expiryTimer  *time.Timer
}

// NewOrchestrator starts the orchestrator loop for userID in state INIT.
func NewOrchestrator(userID string, deps Dependencies, opts Options, log logger.Interface) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = biztime.System()
	}
	opts = opts.withDefaults()

	o := &Orchestrator{
		userID:       userID,
		authority:    deps.Authority,
		store:        deps.Store,
		cache:        deps.Cache,
		catalog:      deps.Catalog,
		clock:        deps.Clock,
		opts:         opts,
		logger:       log.With("user_id", userID),
		cmds:         make(chan command),
		stop:         make(chan struct{}),
		state:        StateInit,
		view:         entitlement.UnknownView(deps.Clock.Now()),
		subs:         make(map[chan entitlement.View]struct{}),
		retryBackOff: opts.newBackOff(),
	}
	o.sessionCtx, o.sessionCancel = context.WithCancel(context.Background())

	o.loopDone = goroutine.SafeGo(o.logger, "reconcile-loop", o.run)
	if o.store != nil {
		goroutine.SafeGo(o.logger, "reconcile-store-events", o.forwardStoreEvents)
	}
	return o
}

// UserID returns the user this orchestrator reconciles.
func (o *Orchestrator) UserID() string {
	return o.userID
}

// View returns the current display value.
func (o *Orchestrator) View() entitlement.View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.At(o.clock.Now())
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Subscribe returns a channel that receives every new view. Slow readers only
// see the latest one. The returned func unsubscribes.
func (o *Orchestrator) Subscribe() (<-chan entitlement.View, func()) {
	ch := make(chan entitlement.View, 1)
	o.subMu.Lock()
	if o.subs == nil {
		o.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	o.subs[ch] = struct{}{}
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			defer o.subMu.Unlock()
			if _, ok := o.subs[ch]; ok {
				delete(o.subs, ch)
				close(ch)
			}
		})
	}
}

// Start checks the authority, showing a still valid positive cache entry
// while it waits.
func (o *Orchestrator) Start(ctx context.Context) (entitlement.View, error) {
	return o.check(ctx, modeStart)
}

// Refresh checks the authority without consulting the cache.
func (o *Orchestrator) Refresh(ctx context.Context) (entitlement.View, error) {
	return o.check(ctx, modeRefresh)
}

// Revalidate checks the authority in the background. An unreachable
// authority leaves the current view in place and schedules a retry.
func (o *Orchestrator) Revalidate(ctx context.Context) (entitlement.View, error) {
	return o.check(ctx, modeRevalidate)
}

// Products lists the configured products as the store prices them.
func (o *Orchestrator) Products(ctx context.Context) (entitlement.Catalog, error) {
	if _, err := o.store.Connect(ctx); err != nil {
		return nil, err
	}
	return o.store.ListProducts(ctx, o.catalog.ProductIDs())
}

// Purchase buys productID in the store and verifies the resulting
// transaction with the authority. Cancelled and pending purchases return the
// current view with the store's error and change nothing.
func (o *Orchestrator) Purchase(ctx context.Context, productID string) (entitlement.View, error) {
	productType, err := o.catalog.ProductType(productID)
	if err != nil {
		return o.View(), err
	}

	session := o.session()
	ch := o.group.DoChan("purchase:"+productID, func() (any, error) {
		if _, err := o.store.Connect(session); err != nil {
			return result{view: o.View(), err: err}, nil
		}
		tx, err := o.store.Purchase(session, productID)
		if err != nil {
			if errors.Is(err, entitlement.ErrUserCancelled) || errors.Is(err, entitlement.ErrPurchasePending) {
				o.logger.Infow("purchase did not complete", "product_id", productID, "error", err)
			} else {
				o.logger.Warnw("store purchase failed", "product_id", productID, "error", err)
			}
			return result{view: o.View(), err: err}, nil
		}
		return o.verify(session, *tx, productType), nil
	})
	return o.await(ctx, ch)
}

// Restore replays the account's store transactions through the authority.
func (o *Orchestrator) Restore(ctx context.Context) (entitlement.View, error) {
	session := o.session()
	ch := o.group.DoChan("restore", func() (any, error) {
		return o.execute(session, command{kind: opRestore}), nil
	})
	return o.await(ctx, ch)
}

// Logout aborts whatever is in flight, invalidates the cache and resets the
// machine to INIT.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.resetSession()
	res := o.execute(ctx, command{kind: opLogout})
	return res.err
}

// Close stops the loop. In-flight remote and store calls are cancelled.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.sessionCancel()
		o.mu.Unlock()
		close(o.stop)
		<-o.loopDone

		o.subMu.Lock()
		for ch := range o.subs {
			close(ch)
		}
		o.subs = nil
		o.subMu.Unlock()
	})
}

func (o *Orchestrator) check(ctx context.Context, mode checkMode) (entitlement.View, error) {
	o.mu.RLock()
	f := o.busy
	o.mu.RUnlock()
	if f != nil {
		select {
		case <-f.done:
			return f.view, nil
		case <-ctx.Done():
			return o.View(), ctx.Err()
		}
	}

	session := o.session()
	ch := o.group.DoChan("check", func() (any, error) {
		return o.execute(session, command{kind: opCheck, mode: mode}), nil
	})
	return o.await(ctx, ch)
}

func (o *Orchestrator) verify(ctx context.Context, tx entitlement.Transaction, productType entitlement.ProductType) result {
	v, _, _ := o.group.Do("verify:"+tx.TransactionID, func() (any, error) {
		return o.execute(ctx, command{kind: opVerify, tx: tx, productType: productType}), nil
	})
	return v.(result)
}

func (o *Orchestrator) await(ctx context.Context, ch <-chan singleflight.Result) (entitlement.View, error) {
	select {
	case r := <-ch:
		res := r.Val.(result)
		return res.view, res.err
	case <-ctx.Done():
		return o.View(), ctx.Err()
	}
}

// execute hands cmd to the loop and waits for its result.
func (o *Orchestrator) execute(ctx context.Context, cmd command) result {
	cmd.ctx = ctx
	cmd.result = make(chan result, 1)
	select {
	case o.cmds <- cmd:
	case <-o.stop:
		return result{view: o.View(), err: ErrClosed}
	}
	select {
	case res := <-cmd.result:
		return res
	case <-o.stop:
		return result{view: o.View(), err: ErrClosed}
	}
}

func (o *Orchestrator) session() context.Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionCtx
}

func (o *Orchestrator) resetSession() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessionCancel()
	o.sessionCtx, o.sessionCancel = context.WithCancel(context.Background())
}

func (o *Orchestrator) run() {
	defer o.stopTimers()
	for {
		select {
		case <-o.stop:
			return
		case cmd := <-o.cmds:
			res := o.handle(cmd)
			cmd.result <- res
		case <-timerC(o.retryTimer):
			o.retryTimer = nil
			o.logger.Debugw("retrying entitlement check")
			o.handle(command{ctx: o.session(), kind: opCheck, mode: modeRevalidate})
		case <-timerC(o.expiryTimer):
			o.expiryTimer = nil
			o.expireCachedGrant()
		}
	}
}

func (o *Orchestrator) handle(cmd command) result {
	if cmd.kind != opLogout {
		if err := cmd.ctx.Err(); err != nil {
			return result{view: o.View(), err: err}
		}
	}

	switch cmd.kind {
	case opCheck:
		return o.runCheck(cmd.ctx, cmd.mode)
	case opVerify:
		o.ensureChecked(cmd.ctx)
		return o.runBusy(func() result { return o.runVerify(cmd.ctx, cmd.tx, cmd.productType) })
	case opRestore:
		o.ensureChecked(cmd.ctx)
		return o.runBusy(func() result { return o.runRestore(cmd.ctx) })
	case opLogout:
		return o.runLogout(cmd.ctx)
	}
	return result{view: o.View()}
}

// ensureChecked settles an INIT machine before a purchase or restore.
func (o *Orchestrator) ensureChecked(ctx context.Context) {
	if o.State() == StateInit {
		o.runCheck(ctx, modeStart)
	}
}

func (o *Orchestrator) runBusy(fn func() result) result {
	f := &flight{done: make(chan struct{})}
	o.mu.Lock()
	o.busy = f
	o.mu.Unlock()

	res := fn()

	o.mu.Lock()
	o.busy = nil
	o.mu.Unlock()
	f.view = res.view
	close(f.done)
	return res
}

func (o *Orchestrator) runCheck(ctx context.Context, mode checkMode) result {
	if err := o.transition(StateCheckingRemote); err != nil {
		return result{view: o.View(), err: err}
	}

	now := o.clock.Now()
	switch mode {
	case modeStart:
		if entry, ok := o.cache.Read(ctx, o.userID); ok && entry.Positive(now) {
			o.setView(entitlement.CachedView(entry, now))
		} else {
			o.setView(entitlement.UnknownView(now))
		}
	case modeRefresh:
		o.setView(entitlement.UnknownView(now))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	record, err := o.authority.Fetch(fetchCtx, o.userID)
	cancel()
	now = o.clock.Now()

	switch {
	case err == nil:
		o.writeCache(ctx, record.Entitled(), now)
		o.cancelRetry()
		return o.settle(entitlement.RemoteView(record, now), nil)
	case errors.Is(err, entitlement.ErrNotFound):
		o.writeCache(ctx, false, now)
		o.cancelRetry()
		return o.settle(entitlement.NotEntitledView(entitlement.SourceRemote, now), nil)
	}

	o.logger.Warnw("entitlement check failed", "error", err)

	var fallback entitlement.View
	if mode == modeRefresh {
		fallback = entitlement.NotEntitledView(entitlement.SourceNone, now)
	} else {
		fallback = o.View()
		switch {
		case fallback.Status == entitlement.StatusUnknown:
			fallback = entitlement.NotEntitledView(entitlement.SourceNone, now)
		case fallback.IsEntitled():
			fallback = o.cachedFallback(ctx, now)
		}
	}

	if ctx.Err() == nil {
		fallback.RetryAt = o.scheduleRetry()
	}
	return o.settle(fallback, err)
}

func (o *Orchestrator) runVerify(ctx context.Context, tx entitlement.Transaction, productType entitlement.ProductType) result {
	prior, priorView := o.State(), o.View()
	if err := o.transition(StatePendingVerification); err != nil {
		return result{view: priorView, err: err}
	}

	verifyCtx, cancel := context.WithTimeout(ctx, o.opts.VerifyTimeout)
	record, err := o.authority.Upsert(verifyCtx, o.userID, productType, tx)
	cancel()
	if err != nil {
		o.logger.Warnw("transaction verification failed",
			"transaction_id", tx.TransactionID,
			"product_id", tx.ProductID,
			"error", err,
		)
		return o.revert(prior, priorView, err)
	}
	if !record.Entitled() {
		o.logger.Warnw("authority accepted transaction without granting",
			"transaction_id", tx.TransactionID,
		)
		return o.revert(prior, priorView, entitlement.ErrNotEntitled)
	}

	return o.commit(ctx, record)
}

func (o *Orchestrator) runRestore(ctx context.Context) result {
	prior, priorView := o.State(), o.View()

	conn, err := o.store.Connect(ctx)
	if err != nil {
		return result{view: priorView, err: err}
	}
	if err := o.transition(StateRestoring); err != nil {
		return result{view: priorView, err: err}
	}

	var txs []entitlement.Transaction
	for tx, err := range o.store.Restore(ctx, conn.AccountID) {
		if err != nil {
			o.logger.Warnw("restore enumeration failed", "error", err)
			return o.revert(prior, priorView, err)
		}
		txs = append(txs, tx)
	}

	if err := o.transition(StateMatching); err != nil {
		return o.revert(prior, priorView, err)
	}

	active := make([]entitlement.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.IsActive {
			continue
		}
		if err := tx.Validate(); err != nil {
			o.logger.Warnw("skipping malformed store transaction", "error", err)
			continue
		}
		active = append(active, tx)
	}
	if len(active) == 0 {
		o.logger.Infow("restore found no active transactions", "enumerated", len(txs))
		return o.settle(entitlement.NotEntitledView(entitlement.SourceNone, o.clock.Now()), nil)
	}

	if err := o.transition(StateCommitting); err != nil {
		return o.revert(prior, priorView, err)
	}

	var (
		granted *entitlement.Record
		errs    []error
	)
	for _, tx := range active {
		productType, err := o.catalog.ProductType(tx.ProductID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		verifyCtx, cancel := context.WithTimeout(ctx, o.opts.VerifyTimeout)
		record, err := o.authority.Upsert(verifyCtx, o.userID, productType, tx)
		cancel()
		if err != nil {
			o.logger.Warnw("restored transaction rejected",
				"transaction_id", tx.TransactionID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if record.Entitled() {
			granted = record
		} else {
			errs = append(errs, entitlement.ErrNotEntitled)
		}
	}

	if granted == nil {
		return o.revert(prior, priorView, errors.Join(errs...))
	}
	if len(errs) > 0 {
		o.logger.Infow("restore granted despite rejected transactions", "rejected", len(errs))
	}
	return o.commit(ctx, granted)
}

func (o *Orchestrator) runLogout(ctx context.Context) result {
	o.cancelRetry()
	o.stopExpiry()

	err := o.cache.Invalidate(ctx, o.userID)
	if err != nil {
		o.logger.Warnw("failed to invalidate entitlement cache", "error", err)
	}

	o.mu.Lock()
	from := o.state
	o.state = StateInit
	o.mu.Unlock()
	o.logger.Debugw("entitlement state changed", "from", from, "to", StateInit)

	o.setView(entitlement.UnknownView(o.clock.Now()))
	return result{view: o.View(), err: err}
}

// commit records a verified grant. The cache write happens before the
// display changes.
func (o *Orchestrator) commit(ctx context.Context, record *entitlement.Record) result {
	if o.State() != StateCommitting {
		if err := o.transition(StateCommitting); err != nil {
			return result{view: o.View(), err: err}
		}
	}
	now := o.clock.Now()
	o.writeCache(ctx, true, now)
	o.cancelRetry()
	return o.settle(entitlement.RemoteView(record, now), nil)
}

// revert returns to the settled state the operation started from.
func (o *Orchestrator) revert(prior State, priorView entitlement.View, err error) result {
	if !prior.Settled() {
		prior = StateNotEntitled
		priorView = entitlement.NotEntitledView(entitlement.SourceNone, o.clock.Now())
	}
	if terr := o.transition(prior); terr != nil {
		return result{view: o.View(), err: errors.Join(err, terr)}
	}
	o.setView(priorView)
	return result{view: priorView, err: err}
}

func (o *Orchestrator) settle(v entitlement.View, err error) result {
	to := settledFor(v)
	if terr := o.transition(to); terr != nil {
		return result{view: o.View(), err: errors.Join(err, terr)}
	}
	o.setView(v)
	o.armExpiry(v)
	return result{view: v, err: err}
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	from := o.state
	if err := checkTransition(from, to); err != nil {
		o.mu.Unlock()
		o.logger.Errorw("rejected entitlement state transition", "from", from, "to", to)
		return err
	}
	o.state = to
	o.mu.Unlock()

	o.logger.Debugw("entitlement state changed", "from", from, "to", to)
	return nil
}

func (o *Orchestrator) setView(v entitlement.View) {
	o.mu.Lock()
	o.view = v
	o.mu.Unlock()
	o.publish(v)
}

func (o *Orchestrator) publish(v entitlement.View) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (o *Orchestrator) writeCache(ctx context.Context, status bool, at time.Time) {
	if err := o.cache.Write(ctx, o.userID, status, at); err != nil {
		o.logger.Warnw("failed to write entitlement cache", "status", status, "error", err)
	}
}

// scheduleRetry arms the retry timer and returns when it fires, or nil once
// the retry budget is spent.
func (o *Orchestrator) scheduleRetry() *time.Time {
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}

	now := time.Now()
	if o.retryStarted.IsZero() {
		o.retryStarted = now
		o.retryBackOff.Reset()
	}
	if time.Since(o.retryStarted) >= o.opts.RetryMaxElapsed {
		o.logger.Warnw("giving up entitlement retries", "elapsed", time.Since(o.retryStarted))
		return nil
	}

	delay := o.retryBackOff.NextBackOff()
	if delay == backoff.Stop {
		return nil
	}
	o.retryTimer = time.NewTimer(delay)
	at := o.clock.Now().Add(delay)
	o.logger.Infow("entitlement check scheduled", "retry_in", delay)
	return &at
}

func (o *Orchestrator) cancelRetry() {
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.retryStarted = time.Time{}
}

// armExpiry settles a provisional cache grant once its entry expires.
func (o *Orchestrator) armExpiry(v entitlement.View) {
	o.stopExpiry()
	if v.Source != entitlement.SourceCache || v.ValidUntil == nil {
		return
	}
	o.expiryTimer = time.NewTimer(v.ValidUntil.Sub(o.clock.Now()))
}

func (o *Orchestrator) stopExpiry() {
	if o.expiryTimer != nil {
		o.expiryTimer.Stop()
		o.expiryTimer = nil
	}
}

func (o *Orchestrator) expireCachedGrant() {
	o.mu.RLock()
	state, raw := o.state, o.view
	o.mu.RUnlock()
	if state != StateEntitled || raw.Source != entitlement.SourceCache {
		return
	}

	expired := raw.At(o.clock.Now())
	if expired.IsEntitled() {
		o.armExpiry(raw)
		return
	}
	o.logger.Infow("cached entitlement expired")

	// Expiry is not a machine transition: the grant was never confirmed, so
	// the state drops straight to NOT_ENTITLED.
	o.mu.Lock()
	o.state = StateNotEntitled
	o.mu.Unlock()
	o.setView(expired)
}

// cachedFallback keeps an unconfirmed grant only while the cache entry
// backing it is fresh.
func (o *Orchestrator) cachedFallback(ctx context.Context, now time.Time) entitlement.View {
	if entry, ok := o.cache.Read(ctx, o.userID); ok && entry.Positive(now) {
		return entitlement.CachedView(entry, now)
	}
	return entitlement.NotEntitledView(entitlement.SourceNone, now)
}

func (o *Orchestrator) stopTimers() {
	o.cancelRetry()
	o.stopExpiry()
}

func (o *Orchestrator) forwardStoreEvents() {
	events := o.store.Events()
	if events == nil {
		return
	}
	for {
		select {
		case <-o.stop:
			return
		case tx, ok := <-events:
			if !ok {
				return
			}
			o.handleStoreEvent(tx)
		}
	}
}

func (o *Orchestrator) handleStoreEvent(tx entitlement.Transaction) {
	if !tx.IsActive {
		o.logger.Debugw("ignoring inactive store transaction", "transaction_id", tx.TransactionID)
		return
	}
	if err := tx.Validate(); err != nil {
		o.logger.Warnw("ignoring malformed store transaction", "error", err)
		return
	}
	productType, err := o.catalog.ProductType(tx.ProductID)
	if err != nil {
		o.logger.Warnw("ignoring store transaction for unknown product", "product_id", tx.ProductID)
		return
	}

	res := o.verify(o.session(), tx, productType)
	if res.err != nil {
		o.logger.Warnw("deferred transaction not granted",
			"transaction_id", tx.TransactionID,
			"error", res.err,
		)
		return
	}
	o.logger.Infow("deferred transaction granted", "transaction_id", tx.TransactionID)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/api/metrics"
	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

// AuthState keeps session, user, role, profile and department consistent with
// the backend's notion of the current session.
//
// Role and profile are fetched concurrently after every reconciliation with a
// signed-in session; the department is read afterwards from the current user.
// Each fetch is tagged with the epoch it was issued for and its result is
// dropped unless that epoch is still current, so a slow fetch for an earlier
// session can never overwrite newer state. Fetch failures leave the field as
// it was; an answer of "none" (no role, no profile row, no department) clears
// it.
type AuthState struct {
	backend ports.Backend
	log     zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.RWMutex
	state       domain.State
	epoch       uint64
	cancelFetch context.CancelFunc
	listeners   map[uint64]func(domain.State)
	nextID      uint64
	unsubscribe func()

	inflight fetchTracker
}

// NewAuthState returns an AuthState in the loading state. Call Initialize to
// attach it to the backend.
func NewAuthState(backend ports.Backend, log zerolog.Logger) *AuthState {
	ctx, cancel := context.WithCancel(context.Background())
	return &AuthState{
		backend:    backend,
		log:        log.With().Str("component", "auth_state").Logger(),
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      domain.State{Loading: true},
		listeners:  make(map[uint64]func(domain.State)),
	}
}

// Initialize subscribes to the backend's session-change notifications and then
// pulls the current session once. Both paths converge on Reconcile. Loading is
// cleared once the pull completes, whatever its outcome; a pull error is
// returned after the state has been reconciled with no session.
func (a *AuthState) Initialize(ctx context.Context) error {
	unsubscribe := a.backend.OnAuthStateChange(func(event domain.AuthChangeEvent, session *domain.Session) {
		a.log.Debug().Str("event", string(event)).Bool("has_session", session != nil).Msg("auth state change")
		a.Reconcile(session)
	})

	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.mu.Unlock()

	session, err := a.backend.GetSession(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("initial session check failed")
		session = nil
	}
	a.Reconcile(session)
	a.setLoading(false)

	if err != nil {
		return fmt.Errorf("initialize auth state: %w", err)
	}
	return nil
}

// Reconcile updates local state to match session. It never blocks on the
// network: enrichment runs in the background.
func (a *AuthState) Reconcile(session *domain.Session) {
	a.mu.Lock()
	a.epoch++
	epoch := a.epoch
	if a.cancelFetch != nil {
		a.cancelFetch()
		a.cancelFetch = nil
	}

	if !session.HasUser() {
		a.clearLocked()
		snap := a.publishLocked()
		a.mu.Unlock()

		metrics.ReconciliationsTotal.WithLabelValues("cleared").Inc()
		a.notify(snap)
		return
	}

	sameUser := a.state.User != nil && a.state.User.ID == session.User.ID
	a.state.Session = session
	a.state.User = session.User
	if !sameUser {
		a.state.Role = nil
		a.state.Profile = nil
		a.state.Department = nil
	}

	fetchCtx, cancel := context.WithCancel(a.baseCtx)
	a.cancelFetch = cancel
	a.inflight.begin()
	snap := a.publishLocked()
	a.mu.Unlock()

	metrics.ReconciliationsTotal.WithLabelValues("signed_in").Inc()
	a.notify(snap)

	go a.enrich(fetchCtx, cancel, epoch, session.User.ID)
}

// SignOut asks the backend to end the session and clears every field of the
// local state regardless of the backend's answer. The backend error, if any,
// is returned.
func (a *AuthState) SignOut(ctx context.Context) error {
	err := a.backend.SignOut(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("backend sign-out failed, clearing local state anyway")
		metrics.SignOutsTotal.WithLabelValues("backend_error").Inc()
	} else {
		metrics.SignOutsTotal.WithLabelValues("ok").Inc()
	}

	a.mu.Lock()
	a.epoch++
	if a.cancelFetch != nil {
		a.cancelFetch()
		a.cancelFetch = nil
	}
	a.clearLocked()
	snap := a.publishLocked()
	a.mu.Unlock()

	a.notify(snap)

	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Snapshot returns the current state.
func (a *AuthState) Snapshot() domain.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Subscribe registers fn to receive a snapshot after every change. fn runs on
// the goroutine that made the change and must not block. Snapshots from
// concurrent fetches may arrive out of order; compare Version.
func (a *AuthState) Subscribe(fn func(domain.State)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()
	metrics.StateSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
			metrics.StateSubscribers.Dec()
		})
	}
}

// Wait blocks until every in-flight enrichment has settled.
func (a *AuthState) Wait() {
	<-a.inflight.idle()
}

// WaitContext is Wait bounded by ctx.
func (a *AuthState) WaitContext(ctx context.Context) error {
	select {
	case <-a.inflight.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches from the backend and abandons pending fetches.
func (a *AuthState) Close() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	a.baseCancel()
	<-a.inflight.idle()
}

// enrich fetches role and profile concurrently, then the department.
func (a *AuthState) enrich(ctx context.Context, cancel context.CancelFunc, epoch uint64, userID string) {
	defer a.inflight.done()
	defer cancel()

	log := a.log.With().Str("user_id", userID).Uint64("epoch", epoch).Logger()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.fetchRole(ctx, log, epoch, userID)
	}()
	go func() {
		defer wg.Done()
		a.fetchProfile(ctx, log, epoch, userID)
	}()
	wg.Wait()

	a.fetchDepartment(ctx, log, epoch, userID)
}

func (a *AuthState) fetchRole(ctx context.Context, log zerolog.Logger, epoch uint64, userID string) {
	start := time.Now()
	role, err := a.backend.FetchRole(ctx, userID)
	metrics.EnrichmentDuration.WithLabelValues("role").Observe(time.Since(start).Seconds())
	if err != nil {
		a.fetchFailed(log, "role", err)
		return
	}
	if role == "" {
		a.apply(epoch, "role", "empty", func(st *domain.State) { st.Role = nil })
		return
	}
	a.apply(epoch, "role", "ok", func(st *domain.State) { st.Role = &role })
}

func (a *AuthState) fetchProfile(ctx context.Context, log zerolog.Logger, epoch uint64, userID string) {
	start := time.Now()
	profile, err := a.backend.FetchProfile(ctx, userID)
	metrics.EnrichmentDuration.WithLabelValues("profile").Observe(time.Since(start).Seconds())
	if errors.Is(err, domain.ErrProfileNotFound) {
		profile, err = nil, nil
	}
	if err != nil {
		a.fetchFailed(log, "profile", err)
		return
	}
	if profile == nil {
		a.apply(epoch, "profile", "empty", func(st *domain.State) { st.Profile = nil })
		return
	}
	a.apply(epoch, "profile", "ok", func(st *domain.State) { st.Profile = profile })
}

func (a *AuthState) fetchDepartment(ctx context.Context, log zerolog.Logger, epoch uint64, userID string) {
	start := time.Now()
	user, err := a.backend.GetUser(ctx)
	metrics.EnrichmentDuration.WithLabelValues("department").Observe(time.Since(start).Seconds())
	if err != nil {
		a.fetchFailed(log, "department", err)
		return
	}
	// The backend answers for its own current session, which may already
	// belong to someone else.
	if user == nil || user.ID != userID {
		metrics.EnrichmentFetchTotal.WithLabelValues("department", "stale").Inc()
		return
	}
	dept, ok := user.Department()
	if !ok {
		a.apply(epoch, "department", "empty", func(st *domain.State) { st.Department = nil })
		return
	}
	a.apply(epoch, "department", "ok", func(st *domain.State) { st.Department = &dept })
}

func (a *AuthState) fetchFailed(log zerolog.Logger, field string, err error) {
	if errors.Is(err, context.Canceled) {
		metrics.EnrichmentFetchTotal.WithLabelValues(field, "stale").Inc()
		return
	}
	metrics.EnrichmentFetchTotal.WithLabelValues(field, "error").Inc()
	log.Debug().Err(err).Str("field", field).Msg("enrichment fetch failed")
}

// apply runs mutate only if epoch is still the current one. result labels the
// fetch outcome in metrics.
func (a *AuthState) apply(epoch uint64, field, result string, mutate func(*domain.State)) {
	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		metrics.EnrichmentFetchTotal.WithLabelValues(field, "stale").Inc()
		a.log.Debug().Str("field", field).Uint64("epoch", epoch).Msg("discarding stale fetch result")
		return
	}
	mutate(&a.state)
	snap := a.publishLocked()
	a.mu.Unlock()

	metrics.EnrichmentFetchTotal.WithLabelValues(field, result).Inc()
	a.notify(snap)
}

func (a *AuthState) setLoading(loading bool) {
	a.mu.Lock()
	if a.state.Loading == loading {
		a.mu.Unlock()
		return
	}
	a.state.Loading = loading
	snap := a.publishLocked()
	a.mu.Unlock()
	a.notify(snap)
}

func (a *AuthState) clearLocked() {
	a.state.Session = nil
	a.state.User = nil
	a.state.Role = nil
	a.state.Profile = nil
	a.state.Department = nil
}

// publishLocked bumps the version and returns the snapshot to broadcast.
// Caller holds a.mu.
func (a *AuthState) publishLocked() domain.State {
	a.state.Version++
	return a.state
}

func (a *AuthState) notify(snap domain.State) {
	a.mu.RLock()
	fns := make([]func(domain.State), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// fetchTracker counts running enrichments. Unlike a WaitGroup it may be
// incremented while someone is waiting for it to drain.
type fetchTracker struct {
	mu      sync.Mutex
	pending int
	// drained is closed whenever pending is zero; nil means closed.
	drained chan struct{}
}

func (t *fetchTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		t.drained = make(chan struct{})
	}
	t.pending++
}

func (t *fetchTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending--
	if t.pending == 0 {
		close(t.drained)
	}
}

// idle returns a channel that is closed once no enrichment is running.
func (t *fetchTracker) idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		return closedChan
	}
	return t.drained
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Package reconcile merges the local daily dataset with the copy kept in
// the user's cloud drive.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/skilltrack/internal/auth"
	"github.com/goodtune/skilltrack/internal/drive"
	"github.com/goodtune/skilltrack/internal/metrics"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/rs/zerolog"
)

// ErrLoginRequired is returned by interactive attempts that could not obtain
// a credential.
var ErrLoginRequired = errors.New("reconcile: login required")

// TokenProvider supplies bearer tokens for the remote store.
type TokenProvider interface {
	Token(ctx context.Context, interactive bool) (string, error)
	Invalidate(ctx context.Context) error
	HasCredential(ctx context.Context) bool
}

// Remote is the cloud file store, bound to one token.
type Remote interface {
	Find(ctx context.Context, name string) (*drive.FileRef, error)
	Download(ctx context.Context, ref *drive.FileRef) (storage.Dataset, error)
	Upload(ctx context.Context, name string, dataset storage.Dataset, ref *drive.FileRef) (*drive.FileRef, error)
}

// OpenRemote opens a remote session for token.
type OpenRemote func(ctx context.Context, token string) (Remote, error)

// Config holds reconciler configuration
type Config struct {
	FileName     string
	Timeout      time.Duration // zero disables the deadline
	FailureReset time.Duration
}

// Result summarizes one reconciliation.
type Result struct {
	Skipped    bool      `json:"skipped"`
	LocalDays  int       `json:"localDays"`
	RemoteDays int       `json:"remoteDays"`
	MergedDays int       `json:"mergedDays"`
	FileID     string    `json:"fileId,omitempty"`
	Created    bool      `json:"created"`
	At         time.Time `json:"at"`
}

// Reconciler runs reconciliations one at a time.
type Reconciler struct {
	records storage.RecordStore
	tokens  TokenProvider
	open    OpenRemote
	config  Config
	logger  zerolog.Logger
	now     func() time.Time

	runMu  sync.Mutex
	status statusTracker

	hookMu sync.RWMutex
	hooks  []func(context.Context, storage.Dataset)
}

// New creates a reconciler.
func New(records storage.RecordStore, tokens TokenProvider, open OpenRemote, config Config, logger zerolog.Logger) *Reconciler {
	if config.FailureReset == 0 {
		config.FailureReset = 3 * time.Second
	}
	r := &Reconciler{
		records: records,
		tokens:  tokens,
		open:    open,
		config:  config,
		logger:  logger.With().Str("component", "reconcile").Logger(),
		now:     time.Now,
	}
	r.status.status = Status{State: StateIdle}
	return r
}

// OnMerged registers fn to run after the merged dataset is stored locally
// and before it is uploaded.
func (r *Reconciler) OnMerged(fn func(context.Context, storage.Dataset)) {
	r.hookMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hookMu.Unlock()
}

// Status returns the current sync status.
func (r *Reconciler) Status(ctx context.Context) Status {
	status, loggedOut := r.status.get()
	if !loggedOut && status.State != StateFailed && status.State != StateSyncing {
		status.LoggedIn = r.tokens.HasCredential(ctx)
	}
	return status
}

// Reconcile merges local and remote data, stores the result locally and
// uploads it. A background attempt without a credential is skipped silently.
func (r *Reconciler) Reconcile(ctx context.Context, interactive bool) (*Result, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	trigger := "background"
	if interactive {
		trigger = "interactive"
	}

	start := time.Now()
	result, err := r.reconcile(ctx, interactive)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.SyncsTotal.WithLabelValues(trigger, "error").Inc()
		r.logger.Warn().Err(err).Str("trigger", trigger).Msg("Reconciliation failed")
		if interactive {
			r.status.failThenReset(err, r.config.FailureReset)
		} else {
			r.status.update(func(s *Status) {
				s.State = StateFailed
				s.LastError = err.Error()
			})
		}
		return nil, err
	case result.Skipped:
		metrics.SyncsTotal.WithLabelValues(trigger, "skipped").Inc()
		r.logger.Debug().Msg("No credential, skipping background reconciliation")
		r.status.update(func(s *Status) {
			s.LoggedIn = false
			s.State = StateIdle
		})
		return result, nil
	default:
		metrics.SyncsTotal.WithLabelValues(trigger, "ok").Inc()
		r.status.update(func(s *Status) {
			s.LoggedIn = true
			s.State = StateSynced
			s.LastSync = result.At
			s.LastError = ""
		})
		r.logger.Info().
			Str("trigger", trigger).
			Int("local_days", result.LocalDays).
			Int("remote_days", result.RemoteDays).
			Int("merged_days", result.MergedDays).
			Bool("created", result.Created).
			Msg("Reconciliation completed")
		return result, nil
	}
}

// reconcile bounds the remote round trip by the configured timeout. An
// interactive token request, which may wait on the user's consent, is
// outside it.
func (r *Reconciler) reconcile(ctx context.Context, interactive bool) (*Result, error) {
	tokenCtx := ctx
	if !interactive && r.config.Timeout > 0 {
		var cancel context.CancelFunc
		tokenCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	token, err := r.tokens.Token(tokenCtx, interactive)
	if errors.Is(err, auth.ErrNoCredential) {
		if interactive {
			return nil, ErrLoginRequired
		}
		return &Result{Skipped: true, At: r.now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	r.status.update(func(s *Status) {
		s.LoggedIn = true
		s.State = StateSyncing
	})

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	remote, err := r.open(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}

	ref, err := remote.Find(ctx, r.config.FileName)
	if err != nil {
		return nil, r.remoteError(ctx, err)
	}

	remoteData := storage.Dataset{}
	if ref != nil {
		remoteData, err = remote.Download(ctx, ref)
		if err != nil {
			return nil, r.remoteError(ctx, err)
		}
	}

	local, err := r.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local dataset: %w", err)
	}

	merged := Merge(local, remoteData)
	if err := r.records.MergeMax(ctx, merged); err != nil {
		return nil, fmt.Errorf("store merged dataset: %w", err)
	}

	r.hookMu.RLock()
	for _, fn := range r.hooks {
		fn(ctx, merged)
	}
	r.hookMu.RUnlock()

	uploaded, err := remote.Upload(ctx, r.config.FileName, merged, ref)
	if err != nil {
		return nil, r.remoteError(ctx, err)
	}

	return &Result{
		LocalDays:  len(local),
		RemoteDays: len(remoteData),
		MergedDays: len(merged),
		FileID:     uploaded.ID,
		Created:    ref == nil,
		At:         r.now(),
	}, nil
}

// remoteError drops the cached token when the remote rejected it.
func (r *Reconciler) remoteError(ctx context.Context, err error) error {
	if errors.Is(err, drive.ErrUnauthorized) {
		if invErr := r.tokens.Invalidate(context.WithoutCancel(ctx)); invErr != nil {
			r.logger.Error().Err(invErr).Msg("Failed to invalidate token")
		}
	}
	return err
}

func (r *Reconciler) setNextSync(t time.Time) {
	r.status.annotate(func(s *Status) { s.NextSync = t })
}

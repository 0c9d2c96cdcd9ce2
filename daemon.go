package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ssgreg/repeat"

	"github.com/VestLab/dropmgr/internal/lib/ledger"
	"github.com/VestLab/dropmgr/internal/lib/misc"
)

// Daemon provides a 'little' separation in that we initialize it with some data from the App global set up by
// the process startup, but the Daemon tries to be fairly self-contained after that.
type Daemon struct {
	logger    *slog.Logger
	ledger    *ledger.Ledger
	events    *ledger.MemorySink
	saveState func() error
	port      int
}

func newDaemon(port int) *Daemon {
	return &Daemon{
		logger:    App.logger,
		ledger:    App.ledger,
		events:    App.events,
		saveState: App.saveState,
		port:      port,
	}
}

func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup) {
	d.logger.Info("Starting dropmgr daemon", "port", d.port)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.port),
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http server error", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.SnapshotWatcher(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.logger.Info("exiting daemon start function")
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// SnapshotWatcher persists the ledger snapshot on an interval so a daemon
// restart only loses at most the last minute of accepted operations.
func (d *Daemon) SnapshotWatcher(ctx context.Context) {
	defer d.logger.Info("Exiting SnapshotWatcher")
	d.logger.Info("Starting SnapshotWatcher")

	for {
		select {
		case <-ctx.Done():
			// one last save on the way out
			if err := d.persistSnapshot(); err != nil {
				misc.Errorf(d.logger, "final snapshot save failed, err:%v", err)
			}
			return
		case <-time.After(1 * time.Minute):
			if err := d.persistSnapshot(); err != nil {
				misc.Warnf(d.logger, "snapshot save failed, will retry next interval, err:%v", err)
			}
		}
	}
}

func (d *Daemon) persistSnapshot() error {
	return repeat.Repeat(
		repeat.Fn(func() error {
			if err := d.saveState(); err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(10),
		repeat.FnOnError(func(err error) error {
			d.logger.Warn("retrying snapshot save", "error", err.Error())
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 1 * time.Second,
				MaxDelay:  5 * time.Second,
			}).Set(),
		),
	)
}

func (d *Daemon) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/totals", d.handleTotals).Methods(http.MethodGet)
	api.HandleFunc("/cohorts", d.handleCohorts).Methods(http.MethodGet)
	api.HandleFunc("/events", d.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/participants/{account}", d.handleParticipant).Methods(http.MethodGet)
	api.HandleFunc("/participants/{account}/claim", d.handleClaim).Methods(http.MethodPost)
	api.HandleFunc("/participants/{account}/stake", d.handleStake).Methods(http.MethodPost)
	api.HandleFunc("/participants/{account}/unstake", d.handleUnstake).Methods(http.MethodPost)
	return r
}

func (d *Daemon) handleTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Totals ledger.Totals `json:"totals"`
		Counts ledger.Counts `json:"counts"`
	}{
		Totals: d.ledger.Totals(),
		Counts: d.ledger.Counts(),
	})
}

func (d *Daemon) handleCohorts(w http.ResponseWriter, r *http.Request) {
	toStrings := func(addrs []types.Address) []string {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.String())
		}
		return out
	}
	writeJSON(w, http.StatusOK, struct {
		Stakers    []string `json:"stakers"`
		NonStakers []string `json:"nonStakers"`
	}{
		Stakers:    toStrings(d.ledger.StakerCohort()),
		NonStakers: toStrings(d.ledger.NonStakerCohort()),
	})
}

// handleEvents returns every event emitted since the daemon started, oldest
// first.  Events from before the last restart only exist in the logs.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := d.events.Events()
	if events == nil {
		events = []ledger.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (d *Daemon) handleParticipant(w http.ResponseWriter, r *http.Request) {
	account, ok := requestAccount(w, r)
	if !ok {
		return
	}
	state, found := d.ledger.Participant(account)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("account %s is not part of this distribution", account))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (d *Daemon) handleClaim(w http.ResponseWriter, r *http.Request) {
	account, ok := requestAccount(w, r)
	if !ok {
		return
	}
	wantsStake := r.URL.Query().Get("stake") == "true"
	d.runOperation(w, r, account, func() error {
		return d.ledger.Claim(r.Context(), account, wantsStake)
	})
}

func (d *Daemon) handleStake(w http.ResponseWriter, r *http.Request) {
	account, ok := requestAccount(w, r)
	if !ok {
		return
	}
	d.runOperation(w, r, account, func() error {
		return d.ledger.Stake(account)
	})
}

func (d *Daemon) handleUnstake(w http.ResponseWriter, r *http.Request) {
	account, ok := requestAccount(w, r)
	if !ok {
		return
	}
	d.runOperation(w, r, account, func() error {
		return d.ledger.Unstake(r.Context(), account)
	})
}

// runOperation invokes op, retrying briefly when the ledger's operation gate
// is busy, then renders the resulting participant state (or the error).
// A successful op has already moved tokens, so the new state is persisted
// before we answer - a crash right after the transfer must not resurrect a
// pre-payout snapshot and let the payout be claimed twice.
func (d *Daemon) runOperation(w http.ResponseWriter, r *http.Request, account types.Address, op func() error) {
	err := d.withBusyRetry(op)
	if err != nil {
		writeError(w, httpStatusForError(err), err)
		return
	}
	if err := d.persistSnapshot(); err != nil {
		// the transfer already settled - report success, but loudly
		misc.Errorf(d.logger, "operation for %s succeeded but snapshot save failed:%v", account.String(), err)
	}
	state, _ := d.ledger.Participant(account)
	writeJSON(w, http.StatusOK, state)
}

// withBusyRetry retries only gate contention - every other error (including
// precondition failures) is final and belongs to the caller.
func (d *Daemon) withBusyRetry(op func() error) error {
	var opErr error
	_ = repeat.Repeat(
		repeat.Fn(func() error {
			opErr = op()
			if errors.Is(opErr, ledger.ErrOperationInProgress) {
				return repeat.HintTemporary(opErr)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(5),
		repeat.WithDelay(
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 25 * time.Millisecond,
				MaxDelay:  250 * time.Millisecond,
			}).Set(),
		),
	)
	return opErr
}

func requestAccount(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	account, err := types.DecodeAddress(mux.Vars(r)["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account address: %w", err))
		return types.Address{}, false
	}
	return account, true
}

func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotEligible),
		errors.Is(err, ledger.ErrNotClaimed),
		errors.Is(err, ledger.ErrNotStaked):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrAlreadyStaked),
		errors.Is(err, ledger.ErrAlreadyUnstaked),
		errors.Is(err, ledger.ErrDoesNotWantToStake),
		errors.Is(err, ledger.ErrCannotUnstakeYet),
		errors.Is(err, ledger.ErrInsufficientReserve):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrOperationInProgress):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

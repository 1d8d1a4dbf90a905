// Package autoclean implements the Autoclean Task (AC) of spec §4.8: a
// periodic scan that deletes datastore entries for SETTLED invoices past
// the paid-age window and for CANCELED or OPEN invoices past the
// expired-age window after expiry, bounded by the host's
// own autoclean-* configs. It is grounded on the teacher's
// chanbackup/recoverymanager.go periodic-ticker-with-remainder-sleep
// pattern, generalized here to a single long-lived goroutine rather than
// a one-shot recovery pass. The list_all scan is paced by a
// discovery.GossipSyncer-style rate.Limiter rather than a raw sleep, so a
// misconfigured zero-length cycle can't turn into a full-datastore scan
// busy-loop.
package autoclean

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/elementsproject/holdinvoice/engine"
	"github.com/elementsproject/holdinvoice/hostrpc"
)

const (
	// fallbackCycle is the wait before the very first cycle at startup,
	// and the cycle length used whenever listconfigs fails or reports a
	// cycle of zero.
	fallbackCycle = time.Minute

	// listAllInterval bounds how often a single Task will issue a
	// list_all datastore scan, independent of how short a misconfigured
	// autoclean-cycle is set to. A full-datastore scan is the most
	// expensive call this task makes; this keeps it off lightningd's
	// RPC path more than once every 10s even under a hostile cycle.
	listAllInterval = 10 * time.Second
)

// Task is the Autoclean Task. It owns no locks of its own; every
// decision is made from a fresh DSB.ListAll snapshot each cycle.
type Task struct {
	dsb *hostrpc.DSB
	cip *hostrpc.CIP

	// listAllLimiter paces runOneCycle's DSB.ListAll call the way
	// GossipSyncer.rateLimiter paces gossip query replies: a token
	// bucket refilled at listAllInterval rather than a raw sleep, so a
	// burst of back-to-back cycles (e.g. a zero-length cycle from a
	// misconfigured host) still only scans the datastore at the
	// configured rate.
	listAllLimiter *rate.Limiter

	// sleep performs Run's initial startup wait; the wait between cycles
	// uses time.After so it can be interrupted by stop.
	sleep func(time.Duration)
}

// NewTask wires an Autoclean Task to its collaborators.
func NewTask(dsb *hostrpc.DSB, cip *hostrpc.CIP) *Task {
	return &Task{
		dsb:            dsb,
		cip:            cip,
		listAllLimiter: rate.NewLimiter(rate.Every(listAllInterval), 1),
		sleep:          time.Sleep,
	}
}

// Run blocks forever, running one scan per cycle, until ctx-like done is
// signaled via stop. The plugin's init handler launches it in its own
// goroutine.
func (t *Task) Run(stop <-chan struct{}) {
	t.sleep(fallbackCycle)

	for {
		select {
		case <-stop:
			return
		default:
		}

		cycleStart := time.Now()
		cycle := t.runOneCycle()

		remaining := cycle - time.Since(cycleStart)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-stop:
			return
		case <-time.After(remaining):
		}
	}
}

// runOneCycle implements one pass of spec §4.8's algorithm and returns
// the cycle duration to sleep for next (so a misconfigured cycle of zero
// still makes forward progress).
func (t *Task) runOneCycle() time.Duration {
	cfg, err := t.cip.ListAutocleanConfigs()
	if err != nil {
		log.Errorf("autoclean: listconfigs failed: %v", err)
		return fallbackCycle
	}
	cycle := time.Duration(cfg.CycleSeconds) * time.Second
	if cycle <= 0 {
		cycle = fallbackCycle
	}
	if cfg.PaidAgeSeconds == 0 && cfg.ExpiredAgeSeconds == 0 {
		return cycle
	}

	if err := t.listAllLimiter.Wait(context.Background()); err != nil {
		log.Errorf("autoclean: list_all rate limiter: %v", err)
		return cycle
	}
	records, _, err := t.dsb.ListAll()
	if err != nil {
		log.Errorf("autoclean: list_all failed: %v", err)
		return cycle
	}

	now := time.Now().Unix()
	deleted := 0
	for _, rec := range records {
		state, err := engine.ParseHoldState(rec.State)
		if err != nil {
			log.Errorf("autoclean: corrupt state for %s: %v", rec.PaymentHash, err)
			continue
		}

		var stale bool
		switch {
		case state == engine.Settled && cfg.PaidAgeSeconds > 0:
			stale = now-rec.PaidAt > int64(cfg.PaidAgeSeconds)
		case (state == engine.Canceled || state == engine.Open) && cfg.ExpiredAgeSeconds > 0:
			stale = rec.ExpiresAt+int64(cfg.ExpiredAgeSeconds) < now
		}
		if !stale {
			continue
		}

		if err := t.dsb.Delete(rec.PaymentHash); err != nil {
			log.Errorf("autoclean: delete %s failed: %v", rec.PaymentHash, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Infof("autoclean: removed %d stale invoice record(s)", deleted)
	}
	return cycle
}

package chat

import (
	"log/slog"
	"time"

	"github.com/avinashrudhra/robotics/internal/models"
)

type armedTimer struct {
	timer Timer
	seq   uint64
}

// armLocked schedules the hard removal of a message. An existing timer
// for the id is canceled first so at most one live timer exists per
// message; the sequence number keeps a canceled timer that already fired
// and is waiting on the lock from expiring the message anyway.
func (r *Room) armLocked(id models.MessageID, d time.Duration) {
	r.cancelTimerLocked(id)

	if d <= 0 {
		r.expireLocked(id)
		return
	}

	r.timerSeq++
	seq := r.timerSeq
	timer := r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cur, ok := r.timers[id]
		if !ok || cur.seq != seq {
			return
		}
		delete(r.timers, id)
		r.expireLocked(id)
	})
	r.timers[id] = &armedTimer{timer: timer, seq: seq}
}

func (r *Room) cancelTimerLocked(id models.MessageID) {
	if h, ok := r.timers[id]; ok {
		h.timer.Stop()
		delete(r.timers, id)
	}
}

// reconcileLocked rebuilds timer state from the wall clock. Elapsed time
// since the anchor (creation, or first read for read-anchored specs)
// always counts against the budget; messages whose budget is exhausted
// are expired synchronously, the rest get a timer for the remainder. A
// read-anchored message that has not been read yet stays inert.
func (r *Room) reconcileLocked() {
	now := r.clock.Now()

	var overdue []models.MessageID
	for _, msg := range r.log {
		if !msg.Disappearing || msg.Deleted || !msg.Disappear.Valid() {
			continue
		}

		var anchor time.Time
		switch msg.Disappear.Mode {
		case models.DisappearFixed:
			anchor = msg.CreatedAt
		case models.DisappearAfterRead:
			if msg.ReadAt == nil {
				continue
			}
			anchor = *msg.ReadAt
		default:
			continue
		}

		remaining := anchor.Add(msg.Disappear.Budget()).Sub(now)
		if remaining <= 0 {
			overdue = append(overdue, msg.ID)
			continue
		}
		r.armLocked(msg.ID, remaining)
		slog.Debug("Disappearing timer reconciled", "id", msg.ID, "remaining", remaining)
	}

	for _, id := range overdue {
		r.expireLocked(id)
	}
}

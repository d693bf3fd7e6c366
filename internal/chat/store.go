package chat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/avinashrudhra/robotics/internal/metrics"
	"github.com/avinashrudhra/robotics/internal/models"
)

func newMessageID(now time.Time) models.MessageID {
	b := make([]byte, 3)
	rand.Read(b)
	return models.MessageID(fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b)))
}

// AppendText appends a text message and fans it out to all connections.
func (r *Room) AppendText(identity, connID, text string, disappear *models.DisappearSpec, replyTo *models.ReplyRef) *models.Message {
	if text == "" {
		return nil
	}
	return r.append(identity, connID, &models.Message{
		Kind:    models.KindText,
		Text:    text,
		ReplyTo: replyTo,
	}, disappear)
}

// AppendImage appends an image message. Data is a base64 data URL.
func (r *Room) AppendImage(identity, connID, data, name string, disappear *models.DisappearSpec) *models.Message {
	if data == "" {
		return nil
	}
	return r.append(identity, connID, &models.Message{
		Kind:      models.KindImage,
		ImageData: data,
		ImageName: name,
	}, disappear)
}

// AppendVoice appends a voice message with its duration in seconds.
func (r *Room) AppendVoice(identity, connID, data string, duration float64, disappear *models.DisappearSpec) *models.Message {
	if data == "" || duration < 0 {
		return nil
	}
	return r.append(identity, connID, &models.Message{
		Kind:      models.KindVoice,
		VoiceData: data,
		Duration:  duration,
	}, disappear)
}

func (r *Room) append(identity, connID string, msg *models.Message, disappear *models.DisappearSpec) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return nil
	}

	now := r.clock.Now()
	id := newMessageID(now)
	for r.index[id] != nil {
		id = newMessageID(now)
	}

	msg.ID = id
	msg.Author = identity
	msg.ConnID = connID
	msg.CreatedAt = now
	msg.Status = models.StatusSent
	if disappear.Valid() {
		msg.Disappearing = true
		msg.Disappear = disappear
	}

	r.log = append(r.log, msg)
	r.index[id] = msg
	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()

	r.broadcastLocked(models.Event{Type: models.EvAppended, Data: msg})

	if msg.Disappearing && msg.Disappear.Mode == models.DisappearFixed {
		r.armLocked(id, msg.Disappear.Budget())
	}

	// Store-and-forward: the delivered transition lands after a short
	// delay instead of instantly.
	r.clock.AfterFunc(r.deliveryDelay, func() { r.markDelivered(id) })

	slog.Debug("Message appended", "id", id, "kind", msg.Kind, "author", identity, "disappearing", msg.Disappearing)
	return msg
}

func (r *Room) markDelivered(id models.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.index[id]
	if !ok || msg.Status.Rank() >= models.StatusDelivered.Rank() {
		return
	}
	msg.Status = models.StatusDelivered
	r.broadcastLocked(models.Event{Type: models.EvStatusChanged, Data: models.StatusData{ID: id, Status: msg.Status}})
}

// MarkRead marks the given messages read on behalf of the reader. A
// reader never marks their own messages, unknown ids are skipped, and a
// message already read stays read with its original read timestamp. The
// first read also arms any read-anchored disappearing timer.
func (r *Room) MarkRead(identity, connID string, ids []models.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return
	}

	now := r.clock.Now()
	var processed []models.MessageID
	for _, id := range ids {
		msg, ok := r.index[id]
		if !ok || msg.Author == identity {
			continue
		}
		if msg.Status == models.StatusRead {
			continue
		}
		msg.Status = models.StatusRead
		readAt := now
		msg.ReadAt = &readAt
		processed = append(processed, id)

		if msg.Disappearing && !msg.Deleted && msg.Disappear.Valid() && msg.Disappear.Mode == models.DisappearAfterRead {
			r.armLocked(id, msg.Disappear.Budget())
		}
	}

	if len(processed) > 0 {
		r.broadcastLocked(models.Event{Type: models.EvMessagesRead, Data: models.ReadData{IDs: processed}})
	}
}

// Edit replaces the text of a message. Only the authoring identity may
// edit, and never after a soft delete.
func (r *Room) Edit(identity, connID string, id models.MessageID, newText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return ErrForbidden
	}
	msg, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	if msg.Author != identity {
		return ErrForbidden
	}
	if msg.Deleted {
		return ErrAlreadyDeleted
	}

	now := r.clock.Now()
	msg.Text = newText
	msg.Edited = true
	msg.EditedAt = &now

	r.broadcastLocked(models.Event{Type: models.EvEdited, Data: models.EditData{ID: id, NewText: newText, EditedAt: now}})
	return nil
}

// SoftDelete tombstones a message: the record stays in the log with its
// payload stripped, and any pending disappearing timer is canceled.
// Distinct from expire, which removes the record entirely.
func (r *Room) SoftDelete(identity, connID string, id models.MessageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return ErrForbidden
	}
	msg, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	if msg.Author != identity {
		return ErrForbidden
	}
	if msg.Deleted {
		return ErrAlreadyDeleted
	}

	r.cancelTimerLocked(id)

	now := r.clock.Now()
	msg.Deleted = true
	msg.DeletedAt = &now
	msg.Text = ""
	msg.ImageData = ""
	msg.ImageName = ""
	msg.VoiceData = ""
	msg.Duration = 0
	msg.Disappearing = false
	msg.Disappear = nil

	r.broadcastLocked(models.Event{Type: models.EvDeleted, Data: models.MessageRefData{ID: id}})
	return nil
}

// Clear wipes the whole log and cancels every pending timer. Any joined
// participant may clear.
func (r *Room) Clear(identity, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return
	}

	for id := range r.timers {
		r.cancelTimerLocked(id)
	}
	r.log = nil
	r.index = make(map[models.MessageID]*models.Message)

	r.broadcastLocked(models.Event{Type: models.EvChatCleared})
	slog.Info("Chat cleared", "by", identity)
}

// Messages returns a snapshot of the current log for inspection.
func (r *Room) Messages() []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backlogLocked()
}

func (r *Room) backlogLocked() []*models.Message {
	out := make([]*models.Message, len(r.log))
	copy(out, r.log)
	return out
}

func (r *Room) expireLocked(id models.MessageID) {
	msg, ok := r.index[id]
	if !ok {
		return
	}

	r.cancelTimerLocked(id)
	delete(r.index, id)
	for i, m := range r.log {
		if m == msg {
			r.log = append(r.log[:i], r.log[i+1:]...)
			break
		}
	}
	metrics.MessagesExpired.Inc()

	r.broadcastLocked(models.Event{Type: models.EvDisappeared, Data: models.MessageRefData{ID: id}})
	slog.Debug("Message expired", "id", id)
}

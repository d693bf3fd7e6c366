package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/avinashrudhra/robotics/internal/metrics"
	"github.com/avinashrudhra/robotics/internal/models"
)

const defaultDeliveryDelay = 100 * time.Millisecond

// EvictionReason is sent with the forced-logout notice when a newer
// login takes over an identity's session.
const EvictionReason = "New login from another location"

// Connection is the transport handle the room uses for fan-out. Deliver
// must serialize the event before returning and must never block; a slow
// consumer drops events rather than stalling the room. Close severs the
// underlying transport.
type Connection interface {
	ID() string
	Deliver(ev models.Event)
	Close(reason string)
}

type Options struct {
	// Identities is the fixed two-name allowlist.
	Identities [2]string
	// Clock defaults to the system clock.
	Clock Clock
	// DeliveryDelay is the simulated store-and-forward gap between
	// append and the delivered status transition.
	DeliveryDelay time.Duration
}

// Room owns every piece of mutable chat state: the session registry, the
// message log and the disappearing-message timers. All mutations
// serialize on one mutex; timer callbacks re-acquire it before touching
// anything.
type Room struct {
	mu sync.Mutex

	identities    [2]string
	clock         Clock
	deliveryDelay time.Duration

	sessions map[string]Connection // identity -> active connection

	log   []*models.Message
	index map[models.MessageID]*models.Message

	timers   map[models.MessageID]*armedTimer
	timerSeq uint64

	defaults models.DisappearDefaults
}

func NewRoom(opts Options) *Room {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	delay := opts.DeliveryDelay
	if delay <= 0 {
		delay = defaultDeliveryDelay
	}
	return &Room{
		identities:    opts.Identities,
		clock:         clock,
		deliveryDelay: delay,
		sessions:      make(map[string]Connection),
		index:         make(map[models.MessageID]*models.Message),
		timers:        make(map[models.MessageID]*armedTimer),
	}
}

func (r *Room) allowed(identity string) bool {
	return identity == r.identities[0] || identity == r.identities[1]
}

func (r *Room) partner(identity string) string {
	if identity == r.identities[0] {
		return r.identities[1]
	}
	return r.identities[0]
}

// Join admits a connection for an identity. A prior session for the same
// identity is evicted first (the newest login always wins). On success
// the backlog is replayed to the new connection after reconciling every
// pending disappearing timer against the wall clock.
func (r *Room) Join(identity string, conn Connection) (partner string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.allowed(identity) {
		return "", ErrUnauthorized
	}

	if _, has := r.sessions[identity]; !has && len(r.sessions) >= 2 {
		return "", ErrRoomFull
	}

	if old := r.sessions[identity]; old != nil && old.ID() != conn.ID() {
		slog.Info("Evicting previous session", "identity", identity, "old_conn", old.ID(), "new_conn", conn.ID())
		old.Deliver(models.Event{Type: models.EvForcedLogout, Data: models.ForcedLogoutData{Reason: EvictionReason}})
		old.Close(EvictionReason)
		metrics.SessionEvictions.Inc()
	}

	r.sessions[identity] = conn

	// Expired budgets are settled synchronously before the replay so the
	// joining connection never sees a message that is already overdue.
	r.reconcileLocked()

	conn.Deliver(models.Event{Type: models.EvSessionBacklog, Data: models.BacklogData{
		Partner:  r.partner(identity),
		Messages: r.backlogLocked(),
		Defaults: r.defaults,
	}})

	r.broadcastRosterLocked()
	slog.Info("Session joined", "identity", identity, "conn_id", conn.ID())
	return r.partner(identity), nil
}

// Disconnect clears the identity -> connection mapping, but only if it
// still points at the disconnecting connection. A connection that was
// already evicted must never clear the newer session.
func (r *Room) Disconnect(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for identity, active := range r.sessions {
		if active.ID() == conn.ID() {
			delete(r.sessions, identity)
			r.broadcastRosterLocked()
			slog.Info("Session closed", "identity", identity, "conn_id", conn.ID())
			return
		}
	}
}

// Typing relays a typing indicator to every other connection.
func (r *Room) Typing(identity, connID string, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return
	}

	ev := models.Event{Type: models.EvTypingCleared}
	if started {
		ev = models.Event{Type: models.EvTyping, Data: models.TypingData{Identity: identity}}
	}
	r.broadcastExceptLocked(connID, ev)
}

// UpdateDefaults stores the room-wide disappearing defaults and echoes
// them to every connection, the sender included, as confirmation.
func (r *Room) UpdateDefaults(identity, connID string, enabled bool, spec *models.DisappearSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActiveLocked(identity, connID) {
		return
	}
	if enabled && !spec.Valid() {
		return
	}

	r.defaults = models.DisappearDefaults{Enabled: enabled, Spec: spec}
	r.broadcastLocked(models.Event{Type: models.EvDefaultsChanged, Data: r.defaults})
}

func (r *Room) isActiveLocked(identity, connID string) bool {
	active, ok := r.sessions[identity]
	return ok && active.ID() == connID
}

func (r *Room) broadcastLocked(ev models.Event) {
	for _, conn := range r.sessions {
		conn.Deliver(ev)
	}
}

func (r *Room) broadcastExceptLocked(connID string, ev models.Event) {
	for _, conn := range r.sessions {
		if conn.ID() == connID {
			continue
		}
		conn.Deliver(ev)
	}
}

func (r *Room) broadcastRosterLocked() {
	users := lo.Map(r.identities[:], func(identity string, _ int) models.RosterEntry {
		_, online := r.sessions[identity]
		return models.RosterEntry{Identity: identity, Online: online}
	})
	r.broadcastLocked(models.Event{Type: models.EvRosterUpdate, Data: models.RosterData{Users: users}})
}

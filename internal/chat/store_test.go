package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avinashrudhra/robotics/internal/models"
)

func joinBoth(t *testing.T, room *Room) (pavi, manu *fakeConn) {
	t.Helper()
	pavi = newFakeConn("c-pavi")
	manu = newFakeConn("c-manu")
	_, err := room.Join("Pavi", pavi)
	require.NoError(t, err)
	_, err = room.Join("Manu", manu)
	require.NoError(t, err)
	pavi.reset()
	manu.reset()
	return pavi, manu
}

func TestAppendBroadcastsAndDeliversAfterDelay(t *testing.T) {
	room, clock := newTestRoom(t)
	pavi, manu := joinBoth(t, room)

	msg := room.AppendText("Pavi", "c-pavi", "hello", nil, nil)
	require.NotNil(t, msg)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, models.StatusSent, msg.Status)
	require.Equal(t, "Pavi", msg.Author)

	for _, conn := range []*fakeConn{pavi, manu} {
		appended := conn.eventsOfType(models.EvAppended)
		require.Len(t, appended, 1)
	}

	// Store-and-forward: delivered lands only after the delay.
	require.Empty(t, manu.eventsOfType(models.EvStatusChanged))
	clock.advance(100 * time.Millisecond)

	statuses := manu.eventsOfType(models.EvStatusChanged)
	require.Len(t, statuses, 1)
	data := statuses[0].Data.(models.StatusData)
	require.Equal(t, msg.ID, data.ID)
	require.Equal(t, models.StatusDelivered, data.Status)
}

func TestReadBeforeDeliveryNeverRegresses(t *testing.T) {
	room, clock := newTestRoom(t)
	_, manu := joinBoth(t, room)

	msg := room.AppendText("Pavi", "c-pavi", "fast read", nil, nil)
	room.MarkRead("Manu", "c-manu", []models.MessageID{msg.ID})
	require.Equal(t, models.StatusRead, msg.Status)

	manu.reset()
	clock.advance(200 * time.Millisecond)

	// The pending delivered transition must not downgrade read.
	require.Equal(t, models.StatusRead, msg.Status)
	require.Empty(t, manu.eventsOfType(models.EvStatusChanged))
}

func TestMarkReadBatchesAndSkipsOwnAndUnknown(t *testing.T) {
	room, _ := newTestRoom(t)
	pavi, _ := joinBoth(t, room)

	m1 := room.AppendText("Pavi", "c-pavi", "one", nil, nil)
	m2 := room.AppendText("Pavi", "c-pavi", "two", nil, nil)
	mine := room.AppendText("Manu", "c-manu", "mine", nil, nil)
	pavi.reset()

	room.MarkRead("Manu", "c-manu", []models.MessageID{m1.ID, m2.ID, mine.ID, "missing-id"})

	reads := pavi.eventsOfType(models.EvMessagesRead)
	require.Len(t, reads, 1)
	got := sortedIDs(reads[0].Data.(models.ReadData).IDs)
	require.Equal(t, sortedIDs([]models.MessageID{m1.ID, m2.ID}), got)

	// A reader cannot mark their own message read.
	require.Equal(t, models.StatusSent, mine.Status)
	require.Nil(t, mine.ReadAt)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	room, _ := newTestRoom(t)
	pavi, _ := joinBoth(t, room)

	msg := room.AppendText("Pavi", "c-pavi", "once", nil, nil)
	room.MarkRead("Manu", "c-manu", []models.MessageID{msg.ID})
	firstReadAt := *msg.ReadAt

	pavi.reset()
	room.MarkRead("Manu", "c-manu", []models.MessageID{msg.ID})

	require.Empty(t, pavi.eventsOfType(models.EvMessagesRead))
	require.Equal(t, firstReadAt, *msg.ReadAt)
}

func TestMarkReadWithNothingProcessedEmitsNothing(t *testing.T) {
	room, _ := newTestRoom(t)
	pavi, manu := joinBoth(t, room)

	room.MarkRead("Manu", "c-manu", []models.MessageID{"ghost"})

	require.Empty(t, pavi.eventsOfType(models.EvMessagesRead))
	require.Empty(t, manu.eventsOfType(models.EvMessagesRead))
}

func TestEditByAuthorBroadcasts(t *testing.T) {
	room, _ := newTestRoom(t)
	_, manu := joinBoth(t, room)

	msg := room.AppendText("Pavi", "c-pavi", "typo", nil, nil)
	manu.reset()

	require.NoError(t, room.Edit("Pavi", "c-pavi", msg.ID, "fixed"))
	require.Equal(t, "fixed", msg.Text)
	require.True(t, msg.Edited)
	require.NotNil(t, msg.EditedAt)

	edits := manu.eventsOfType(models.EvEdited)
	require.Len(t, edits, 1)
	require.Equal(t, "fixed", edits[0].Data.(models.EditData).NewText)
}

func TestEditByNonAuthorIsRejectedWithoutBroadcast(t *testing.T) {
	room, _ := newTestRoom(t)
	pavi, manu := joinBoth(t, room)

	msg := room.AppendText("Manu", "c-manu", "original", nil, nil)
	pavi.reset()
	manu.reset()

	err := room.Edit("Pavi", "c-pavi", msg.ID, "hijacked")
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, "original", msg.Text)
	require.False(t, msg.Edited)
	require.Empty(t, pavi.eventsOfType(models.EvEdited))
	require.Empty(t, manu.eventsOfType(models.EvEdited))
}

func TestEditUnknownAndDeletedMessages(t *testing.T) {
	room, _ := newTestRoom(t)
	joinBoth(t, room)

	require.ErrorIs(t, room.Edit("Pavi", "c-pavi", "missing", "x"), ErrNotFound)

	msg := room.AppendText("Pavi", "c-pavi", "to delete", nil, nil)
	require.NoError(t, room.SoftDelete("Pavi", "c-pavi", msg.ID))
	require.ErrorIs(t, room.Edit("Pavi", "c-pavi", msg.ID, "x"), ErrAlreadyDeleted)
}

func TestSoftDeleteTombstonesAndCancelsTimer(t *testing.T) {
	room, clock := newTestRoom(t)
	pavi, manu := joinBoth(t, room)

	spec := &models.DisappearSpec{Mode: models.DisappearFixed, Seconds: 5}
	msg := room.AppendText("Pavi", "c-pavi", "secret", spec, nil)
	pavi.reset()
	manu.reset()

	require.NoError(t, room.SoftDelete("Pavi", "c-pavi", msg.ID))
	require.True(t, msg.Deleted)
	require.NotNil(t, msg.DeletedAt)
	require.Empty(t, msg.Text)
	require.Len(t, manu.eventsOfType(models.EvDeleted), 1)

	// The record stays as a tombstone and the disappearing timer is gone.
	clock.advance(10 * time.Second)
	require.Empty(t, manu.eventsOfType(models.EvDisappeared))
	require.Len(t, room.Messages(), 1)
}

func TestDeleteTwiceIsAlreadyDeleted(t *testing.T) {
	room, _ := newTestRoom(t)
	joinBoth(t, room)

	msg := room.AppendText("Pavi", "c-pavi", "x", nil, nil)
	require.NoError(t, room.SoftDelete("Pavi", "c-pavi", msg.ID))
	require.ErrorIs(t, room.SoftDelete("Pavi", "c-pavi", msg.ID), ErrAlreadyDeleted)
}

func TestClearWipesLogAndCancelsTimers(t *testing.T) {
	room, clock := newTestRoom(t)
	pavi, manu := joinBoth(t, room)

	spec := &models.DisappearSpec{Mode: models.DisappearFixed, Seconds: 5}
	room.AppendText("Pavi", "c-pavi", "a", spec, nil)
	room.AppendText("Manu", "c-manu", "b", nil, nil)
	pavi.reset()
	manu.reset()

	room.Clear("Manu", "c-manu")

	require.Len(t, pavi.eventsOfType(models.EvChatCleared), 1)
	require.Len(t, manu.eventsOfType(models.EvChatCleared), 1)
	require.Empty(t, room.Messages())

	// A timer that would have fired after the clear must stay silent.
	clock.advance(10 * time.Second)
	require.Empty(t, pavi.eventsOfType(models.EvDisappeared))
	require.Empty(t, manu.eventsOfType(models.EvDisappeared))
}

func TestAppendRequiresActiveSession(t *testing.T) {
	room, _ := newTestRoom(t)
	joinBoth(t, room)

	require.Nil(t, room.AppendText("Pavi", "wrong-conn", "spoof", nil, nil))
	require.Nil(t, room.AppendText("Intruder", "c-pavi", "spoof", nil, nil))
	require.Len(t, room.Messages(), 0)
}

func TestAppendImageAndVoicePayloads(t *testing.T) {
	room, _ := newTestRoom(t)
	_, manu := joinBoth(t, room)

	img := room.AppendImage("Pavi", "c-pavi", "data:image/png;base64,AAAA", "cat.png", nil)
	require.NotNil(t, img)
	require.Equal(t, models.KindImage, img.Kind)
	require.Equal(t, "cat.png", img.ImageName)

	voice := room.AppendVoice("Pavi", "c-pavi", "data:audio/webm;base64,BBBB", 3.5, nil)
	require.NotNil(t, voice)
	require.Equal(t, models.KindVoice, voice.Kind)
	require.Equal(t, 3.5, voice.Duration)

	require.Nil(t, room.AppendImage("Pavi", "c-pavi", "", "empty.png", nil))
	require.Len(t, manu.eventsOfType(models.EvAppended), 2)
}

func TestReplyToKeepsStaleSnippetAfterTargetDeleted(t *testing.T) {
	room, _ := newTestRoom(t)
	joinBoth(t, room)

	target := room.AppendText("Pavi", "c-pavi", "quote me", nil, nil)
	reply := room.AppendText("Manu", "c-manu", "replying", nil, &models.ReplyRef{
		ID:      target.ID,
		Author:  "Pavi",
		Snippet: "quote me",
	})

	require.NoError(t, room.SoftDelete("Pavi", "c-pavi", target.ID))

	// No referential integrity: the quote stays as written.
	require.NotNil(t, reply.ReplyTo)
	require.Equal(t, "quote me", reply.ReplyTo.Snippet)
}

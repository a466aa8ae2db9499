package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracked-mail-relay-go/internal/errs"
)

func mustEvent(t *testing.T, raw string) Event {
	t.Helper()
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestEventUnmarshalKeepsProviderMetadata(t *testing.T) {
	ev := mustEvent(t, `{
		"timestamp": 1467099125.1234,
		"event": "delivered",
		"recipient": "jane@example.com",
		"id": "evt-1",
		"delivery-status": {"code": 250},
		"message": {"headers": {"message-id": "abc@send.example.com", "subject": "Hi"}, "size": 1024}
	}`)

	assert.Equal(t, "1467099125.1234", ev.Key())
	assert.Equal(t, "delivered", ev.Kind)
	assert.Equal(t, "jane@example.com", ev.Recipient)
	assert.Equal(t, "abc@send.example.com", ev.MessageID())
	assert.Contains(t, ev.Metadata, "id")
	assert.Contains(t, ev.Metadata, "delivery-status")
	assert.Contains(t, ev.Message.Metadata, "size")
	assert.NoError(t, ev.Validate())

	out, err := json.Marshal(ev)
	require.NoError(t, err)

	var roundTrip map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Equal(t, "evt-1", roundTrip["id"])
	assert.Contains(t, string(out), `"timestamp":1467099125.1234`)
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		missing string
	}{
		{"no timestamp", `{"event":"opened","recipient":"a@b.c","message":{"headers":{"message-id":"m"}}}`, "timestamp"},
		{"no kind", `{"timestamp":1,"recipient":"a@b.c","message":{"headers":{"message-id":"m"}}}`, "event"},
		{"no recipient", `{"timestamp":1,"event":"opened","message":{"headers":{"message-id":"m"}}}`, "recipient"},
		{"no message", `{"timestamp":1,"event":"opened","recipient":"a@b.c"}`, "message.headers.message-id"},
		{"no message id", `{"timestamp":1,"event":"opened","recipient":"a@b.c","message":{"headers":{}}}`, "message.headers.message-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mustEvent(t, tt.raw).Validate()
			require.Error(t, err)
			assert.True(t, errs.IsMalformedEvent(err))

			var malformed *errs.MalformedEventError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.missing, malformed.Missing)
		})
	}
}

func TestTimelineInsertKeepsNewestFirstAndRejectsDuplicates(t *testing.T) {
	var tl Timeline

	for _, ts := range []string{"100", "300.5", "200"} {
		inserted, err := tl.Insert(Event{Timestamp: json.Number(ts), Kind: KindOpened})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	inserted, err := tl.Insert(Event{Timestamp: "200", Kind: KindDelivered})
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Equal(t, []string{"300.5", "200", "100"}, tl.Keys())
	max, ok := tl.Max()
	assert.True(t, ok)
	assert.Equal(t, 300.5, max)
}

func TestTimelineJSONPreservesStoredOrder(t *testing.T) {
	var tl Timeline
	_, _ = tl.Insert(Event{Timestamp: "10.25", Kind: KindAccepted, Recipient: "a@b.c"})
	_, _ = tl.Insert(Event{Timestamp: "20.5", Kind: KindDelivered, Recipient: "a@b.c"})

	b, err := json.Marshal(tl)
	require.NoError(t, err)

	s := string(b)
	assert.Less(t, strings.Index(s, `"20_5"`), strings.Index(s, `"10_25"`))

	var decoded Timeline
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, []string{"20.5", "10.25"}, decoded.Keys())
	assert.Equal(t, KindDelivered, decoded[0].Event.Kind)
}

func TestTimelineScan(t *testing.T) {
	var tl Timeline
	require.NoError(t, tl.Scan([]byte(`{"5_5":{"timestamp":5.5,"event":"opened","recipient":"x@y.z"}}`)))
	require.Len(t, tl, 1)
	assert.Equal(t, 5.5, tl[0].Timestamp)

	require.NoError(t, tl.Scan(nil))
	assert.Empty(t, tl)

	v, err := Timeline(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestRefreshStatusFlagsTakesLastMatchInStoredOrder(t *testing.T) {
	rec := NewEventRecord("m-1")
	_, _ = rec.Events.Insert(Event{Timestamp: "100", Kind: KindAccepted})
	_, _ = rec.Events.Insert(Event{Timestamp: "200", Kind: KindDelivered})
	_, _ = rec.Events.Insert(Event{Timestamp: "150", Kind: KindAccepted})
	_, _ = rec.Events.Insert(Event{Timestamp: "250", Kind: KindClicked})

	rec.Bounced = ptr(1.0)
	rec.RefreshStatusFlags()

	require.NotNil(t, rec.Accepted)
	assert.Equal(t, 100.0, *rec.Accepted)
	require.NotNil(t, rec.Delivered)
	assert.Equal(t, 200.0, *rec.Delivered)
	assert.Nil(t, rec.Bounced)
	assert.Nil(t, rec.Opened)
	assert.Nil(t, rec.Rejected)
}

func TestAdvanceWatermarkIsMonotonic(t *testing.T) {
	rec := NewEventRecord("m-1")
	assert.Equal(t, 0.0, rec.Watermark())
	assert.True(t, rec.AdvanceWatermark(200))
	assert.False(t, rec.AdvanceWatermark(150))
	assert.False(t, rec.AdvanceWatermark(200))
	assert.Equal(t, 200.0, rec.Watermark())
}

func TestSummaryTimeline(t *testing.T) {
	rec := NewEventRecord("<abc@send.example.com>")
	_, _ = rec.Events.Insert(Event{Timestamp: "0.5", Kind: KindAccepted, Recipient: "jane@example.com"})
	_, _ = rec.Events.Insert(Event{Timestamp: "86400", Kind: KindOpened, Recipient: "jane@example.com"})

	expected := "<abc@send.example.com>\n" +
		"1970-01-02 00:00:00\topened: jane@example.com\n" +
		"1970-01-01 00:00:00\taccepted: jane@example.com"
	assert.Equal(t, expected, rec.SummaryTimeline())
}

func TestSendResultOK(t *testing.T) {
	assert.True(t, SendResult{StatusCode: 200}.OK())
	assert.False(t, SendResult{StatusCode: 500}.OK())
}

func ptr(f float64) *float64 { return &f }

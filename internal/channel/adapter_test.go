package channel

import (
	"encoding/json"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichannel-backend/internal/models"
)

const pageID = "PAGE_1"

func collect(t *testing.T, seq iter.Seq2[Envelope, error]) []Envelope {
	t.Helper()
	var out []Envelope
	for env, err := range seq {
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestMessengerParse(t *testing.T) {
	adapter := NewMessengerAdapter(pageID)

	payload := `{
		"object": "page",
		"entry": [{
			"id": "PAGE_1",
			"messaging": [
				{"sender": {"id": "U1", "name": "Alice"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000000000,
				 "message": {"mid": "m.1", "text": "hello"}},
				{"sender": {"id": "PAGE_1"}, "recipient": {"id": "U1"}, "timestamp": 1700000001000,
				 "message": {"mid": "m.2", "text": "hi from business", "is_echo": true}},
				{"sender": {"id": "U2"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000002000,
				 "message": {"mid": "m.3", "attachments": [{"type": "image", "payload": {"url": "https://cdn/x.jpg"}}]}},
				{"sender": {"id": "U3"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000003000,
				 "message": {"mid": "m.4"}},
				{"sender": {"id": "U4"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000004000}
			]
		}]
	}`

	seq, err := adapter.Parse([]byte(payload))
	require.NoError(t, err)
	envs := collect(t, seq)
	require.Len(t, envs, 2)

	assert.Equal(t, models.ChannelMessenger, envs[0].Channel)
	assert.Equal(t, "U1", envs[0].ExternalSenderID)
	assert.Equal(t, "Alice", envs[0].SenderDisplayName)
	assert.Equal(t, "m.1", envs[0].ExternalMessageID)
	assert.Equal(t, models.ContentText, envs[0].ContentType())
	assert.Nil(t, envs[0].MediaURL())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), envs[0].OccurredAt)

	assert.Equal(t, "U2", envs[1].ExternalSenderID)
	assert.Equal(t, models.ContentImage, envs[1].ContentType())
	require.NotNil(t, envs[1].MediaURL())
	assert.Equal(t, "https://cdn/x.jpg", *envs[1].MediaURL())
}

func TestGraphParseDropsSenderMatchingAccount(t *testing.T) {
	adapter := NewInstagramAdapter("IG_1")
	payload := `{"object":"instagram","entry":[{"messaging":[
		{"sender":{"id":"IG_1"},"recipient":{"id":"U9"},"timestamp":1700000000000,"message":{"mid":"x","text":"out"}}
	]}]}`

	seq, err := adapter.Parse([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, collect(t, seq))
}

func TestGraphParseErrors(t *testing.T) {
	adapter := NewMessengerAdapter(pageID)

	_, err := adapter.Parse([]byte(`{"object":`))
	assert.ErrorIs(t, err, ErrParse)

	_, err = adapter.Parse([]byte(`{"object":"instagram","entry":[]}`))
	assert.ErrorIs(t, err, ErrParse)
}

func TestGraphParseStopsWhenConsumerStops(t *testing.T) {
	adapter := NewMessengerAdapter(pageID)
	payload := `{"object":"page","entry":[{"messaging":[
		{"sender":{"id":"A"},"timestamp":1,"message":{"mid":"1","text":"a"}},
		{"sender":{"id":"B"},"timestamp":2,"message":{"mid":"2","text":"b"}}
	]}]}`

	seq, err := adapter.Parse([]byte(payload))
	require.NoError(t, err)
	var got []string
	for env := range seq {
		got = append(got, env.ExternalMessageID)
		break
	}
	assert.Equal(t, []string{"1"}, got)
}

func TestSyntheticIDIsDeterministic(t *testing.T) {
	adapter := NewMessengerAdapter(pageID)
	payload := []byte(`{"object":"page","entry":[{"messaging":[
		{"sender":{"id":"U1"},"timestamp":1700000000123,"message":{"text":"no id"}}
	]}]}`)

	first, err := adapter.Parse(payload)
	require.NoError(t, err)
	second, err := adapter.Parse(payload)
	require.NoError(t, err)

	a := collect(t, first)
	b := collect(t, second)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.True(t, a[0].SyntheticID)
	assert.True(t, strings.HasPrefix(a[0].ExternalMessageID, "synthetic:"))
	assert.Equal(t, a[0].ExternalMessageID, b[0].ExternalMessageID)

	other := SyntheticMessageID(models.ChannelMessenger, "U1", time.UnixMilli(1700000000124))
	assert.NotEqual(t, a[0].ExternalMessageID, other)
}

func TestSyntheticIDFallsBackToEntryTime(t *testing.T) {
	adapter := NewMessengerAdapter(pageID)
	payload := []byte(`{"object":"page","entry":[{"id":"PAGE_1","time":1700000000456,"messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE_1"},"message":{"text":"no id, no timestamp"}}
	]}]}`)

	first, err := adapter.Parse(payload)
	require.NoError(t, err)
	a := collect(t, first)

	time.Sleep(5 * time.Millisecond)

	second, err := adapter.Parse(payload)
	require.NoError(t, err)
	b := collect(t, second)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.True(t, a[0].SyntheticID)
	assert.Equal(t, a[0].ExternalMessageID, b[0].ExternalMessageID)
	assert.Equal(t, time.UnixMilli(1700000000456).UTC(), a[0].OccurredAt)
}

func TestGraphParseRejectsEventWithoutIDOrTime(t *testing.T) {
	adapter := NewMessengerAdapter(pageID)
	payload := []byte(`{"object":"page","entry":[{"id":"PAGE_1","messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE_1"},"message":{"text":"untraceable"}},
		{"sender":{"id":"U2"},"recipient":{"id":"PAGE_1"},"message":{"mid":"m.9","text":"has id"}}
	]}]}`)

	seq, err := adapter.Parse(payload)
	require.NoError(t, err)

	var envs []Envelope
	var errs []error
	for env, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		envs = append(envs, env)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrParse)
	require.Len(t, envs, 1)
	assert.Equal(t, "m.9", envs[0].ExternalMessageID)
	assert.False(t, envs[0].OccurredAt.IsZero())

	_, ok, err := adapter.ParseItem(json.RawMessage(`{"id":"","from":{"id":"U3"},"message":"no id"}`))
	assert.ErrorIs(t, err, ErrParse)
	assert.False(t, ok)
}

func TestGraphParseItem(t *testing.T) {
	adapter := NewInstagramAdapter("IG_1")

	env, ok, err := adapter.ParseItem(json.RawMessage(`{
		"id": "aWdfZAG06",
		"created_time": "2024-03-01T10:15:00+0000",
		"from": {"id": "U5", "username": "bob.ig"},
		"message": "",
		"attachments": {"data": [{"mime_type": "application/pdf", "file_url": "https://cdn/doc.pdf", "name": "doc.pdf"}]}
	}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "U5", env.ExternalSenderID)
	assert.Equal(t, "bob.ig", env.SenderDisplayName)
	assert.Equal(t, models.ContentFile, env.ContentType())
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), env.OccurredAt)

	_, ok, err = adapter.ParseItem(json.RawMessage(`{"id":"1","from":{"id":"IG_1"},"message":"echo"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = adapter.ParseItem(json.RawMessage(`{"id":"1","created_time":"yesterday","from":{"id":"U5"},"message":"x"}`))
	assert.ErrorIs(t, err, ErrParse)
}

func TestWhatsAppParse(t *testing.T) {
	adapter := NewWhatsAppAdapter("+5511900000000")

	payload := `{
		"event": "messages.upsert",
		"instance": "main",
		"data": [
			{"key": {"remoteJid": "5511988887777@s.whatsapp.net", "fromMe": false, "id": "WA1"},
			 "pushName": "Carla", "message": {"conversation": "oi"}, "messageTimestamp": 1700000000},
			{"key": {"remoteJid": "5511988887777@s.whatsapp.net", "fromMe": true, "id": "WA2"},
			 "message": {"conversation": "resposta"}, "messageTimestamp": "1700000001"},
			{"key": {"remoteJid": "120363@g.us", "fromMe": false, "id": "WA3"},
			 "message": {"conversation": "group"}, "messageTimestamp": 1700000002},
			{"key": {"remoteJid": "5511977776666@s.whatsapp.net", "fromMe": false, "id": "WA4"},
			 "message": {"imageMessage": {"url": "https://mmg/x.enc", "caption": "foto"}}, "messageTimestamp": "1700000003"}
		]
	}`

	seq, err := adapter.Parse([]byte(payload))
	require.NoError(t, err)
	envs := collect(t, seq)
	require.Len(t, envs, 2)

	assert.Equal(t, "5511988887777", envs[0].ExternalSenderID)
	assert.Equal(t, "Carla", envs[0].SenderDisplayName)
	assert.Equal(t, "oi", envs[0].Text)
	assert.Equal(t, "5511988887777@s.whatsapp.net", envs[0].ThreadID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), envs[0].OccurredAt)

	assert.Equal(t, "foto", envs[1].Text)
	assert.Equal(t, models.ContentImage, envs[1].ContentType())
	assert.Equal(t, time.Unix(1700000003, 0).UTC(), envs[1].OccurredAt)
}

func TestWhatsAppParseSingleObjectAndOtherEvents(t *testing.T) {
	adapter := NewWhatsAppAdapter("")

	seq, err := adapter.Parse([]byte(`{"event":"messages.upsert","data":{"key":{"remoteJid":"551100@s.whatsapp.net","id":"X"},"message":{"extendedTextMessage":{"text":"link"}}}}`))
	require.NoError(t, err)
	envs := collect(t, seq)
	require.Len(t, envs, 1)
	assert.Equal(t, "link", envs[0].Text)

	seq, err = adapter.Parse([]byte(`{"event":"connection.update","data":{"state":"open"}}`))
	require.NoError(t, err)
	assert.Empty(t, collect(t, seq))

	_, err = adapter.Parse([]byte(`{"event":"messages.upsert","data":"nope"}`))
	assert.ErrorIs(t, err, ErrParse)
}

func TestWhatsAppOwnNumberIsEcho(t *testing.T) {
	adapter := NewWhatsAppAdapter("5511900000000")
	_, ok, err := adapter.ParseItem(json.RawMessage(`{"key":{"remoteJid":"5511900000000@s.whatsapp.net","id":"Z"},"message":{"conversation":"self"}}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

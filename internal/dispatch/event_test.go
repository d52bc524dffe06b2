package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "relay/pkg/errors"
)

func TestDecode_Envelope(t *testing.T) {
	raw := []byte(`{
		"messageId": "msg-1",
		"pipelineName": "pl_explicit",
		"source": "blob:raw/file.json",
		"eventType": "created",
		"parameters": {"key": "value"}
	}`)

	events, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "msg-1", event.ID)
	assert.Equal(t, "pl_explicit", event.ExplicitPipeline)
	assert.Equal(t, "blob:raw/file.json", event.Source)
	assert.Equal(t, "created", event.EventType)
	assert.Equal(t, "value", event.Parameters["key"])
	assert.False(t, event.ReceivedAt.IsZero())
}

func TestDecode_EnvelopeMinimal(t *testing.T) {
	events, err := Decode([]byte(`{"messageId": "msg-1"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "msg-1", events[0].ID)
	assert.Empty(t, events[0].ExplicitPipeline)
}

func TestDecode_GridEvents(t *testing.T) {
	raw := []byte(`[
		{
			"id": "evt-1",
			"eventType": "Microsoft.Storage.BlobCreated",
			"subject": "/blobServices/default/containers/landing/blobs/raw/a.json",
			"data": {"url": "https://acct.blob.core.windows.net/landing/raw/a.json"}
		},
		{
			"id": "evt-2",
			"eventType": "Microsoft.Storage.BlobCreated",
			"subject": "/blobServices/default/containers/landing/blobs/curated/b.json",
			"data": {"url": "https://acct.blob.core.windows.net/landing/curated/b.json"}
		}
	]`)

	events, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "blob:raw/a.json", events[0].Source)
	assert.Equal(t, "Microsoft.Storage.BlobCreated", events[0].EventType)
	assert.Equal(t, "blob:curated/b.json", events[1].Source)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty payload", raw: ""},
		{name: "whitespace payload", raw: "   "},
		{name: "invalid json", raw: "{broken"},
		{name: "missing message id", raw: `{"source": "blob:raw/a"}`},
		{name: "empty array", raw: `[]`},
		{name: "invalid array", raw: `[{`},
		{name: "array entry without id", raw: `[{"eventType": "x"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestBlobSource(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		subject string
		want    string
	}{
		{
			name: "url with container prefix",
			url:  "https://acct.blob.core.windows.net/landing/raw/a.json",
			want: "blob:raw/a.json",
		},
		{
			name: "url with nested path",
			url:  "https://acct.blob.core.windows.net/landing/raw/2024/01/a.json",
			want: "blob:raw/2024/01/a.json",
		},
		{
			name:    "subject fallback",
			subject: "/blobServices/default/containers/landing/blobs/raw/a.json",
			want:    "blob:raw/a.json",
		},
		{
			name: "nothing to derive from",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blobSource(tt.url, tt.subject))
		})
	}
}

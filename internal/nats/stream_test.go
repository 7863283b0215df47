package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "inbox.c1.msg.human", MessageSubject("c1", model.SenderHuman))
	assert.Equal(t, "inbox.c1.event.handoff_completed", EventSubject("c1", model.EventTypeHandoffCompleted))
	assert.Equal(t, "inbox.c1.msg.>", ThreadFilter("c1"))
}

func TestValidToken(t *testing.T) {
	assert.NoError(t, validToken("0190f3a2-7c1e-7b1a-9f00-1c2d3e4f5a6b"))

	for _, bad := range []string{"", "a.b", "a*", "a>", "a b"} {
		assert.ErrorIs(t, validToken(bad), ErrInvalidSubjectToken, bad)
	}
}

func TestDecodeInbound(t *testing.T) {
	req, err := DecodeInbound([]byte(`{"phone_number":"+1987654321","contact_name":"Emily Davis","text":"Running late"}`))
	require.NoError(t, err)
	assert.Equal(t, model.InboundMessageRequest{
		PhoneNumber: "+1987654321",
		ContactName: "Emily Davis",
		Text:        "Running late",
	}, req)

	_, err = DecodeInbound([]byte(`{"text":"no phone"}`))
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`not json`))
	assert.Error(t, err)
}

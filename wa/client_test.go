package wa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserJID(t *testing.T) {
	assert.Equal(t, "5511999999999@s.whatsapp.net", UserJID("5511999999999"))
	assert.Equal(t, "5511999999999@s.whatsapp.net", UserJID("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "123@g.us", UserJID("123@g.us"), "inputs carrying a server pass through")
}

func TestPhoneNumber(t *testing.T) {
	assert.Equal(t, "5511999999999", PhoneNumber("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", PhoneNumber("5511999999999"))
}

func TestDisconnectReasonTerminal(t *testing.T) {
	assert.False(t, ReasonNone.Terminal())
	assert.False(t, ReasonConnectionLost.Terminal())
	assert.True(t, ReasonLoggedOut.Terminal())
	assert.True(t, ReasonStreamReplaced.Terminal())
}

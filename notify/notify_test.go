package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stylesweep/types"
)

func TestNewUnconfiguredReturnsNil(t *testing.T) {
	n, err := New("", "")
	require.NoError(t, err)
	require.Nil(t, n)

	n, err = New("token", "")
	require.NoError(t, err)
	require.Nil(t, n)

	n, err = New("", "12345")
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestNewRejectsBadChatID(t *testing.T) {
	_, err := New("token", "not-a-number")
	require.ErrorContains(t, err, "chat id")
}

func TestNilNotifierDropsMessages(t *testing.T) {
	var n *Notifier

	require.NoError(t, n.SweepFinished(&types.SweepStats{SweepID: "s", Planned: 3, Completed: 3}))
	require.NoError(t, n.SendReport("/tmp/report.pdf"))
}

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 18, 8, 50, 0, 0, time.UTC)

func TestRecord_FreshPairIsNotSignedIn(t *testing.T) {
	r := New("stu", "evt")
	assert.Equal(t, NotSignedIn, r.State(Morning))
	assert.Equal(t, NotSignedIn, r.State(Afternoon))
	assert.Equal(t, StatusPending, r.Status)
	assert.False(t, r.Present())
}

func TestRecord_SignInMarksPresent(t *testing.T) {
	r := New("stu", "evt")
	require.NoError(t, r.SignIn(Morning, t0))

	require.NotNil(t, r.Morning.SignIn)
	assert.Equal(t, t0, *r.Morning.SignIn)
	assert.Equal(t, StatusPresent, r.Status)
	assert.Equal(t, SignedIn, r.State(Morning))
	assert.Equal(t, NotSignedIn, r.State(Afternoon))
	assert.True(t, r.Present())
}

func TestRecord_SecondSignInKeepsFirstTimestamp(t *testing.T) {
	r := New("stu", "evt")
	require.NoError(t, r.SignIn(Morning, t0))

	err := r.SignIn(Morning, t0.Add(5*time.Minute))
	assert.ErrorIs(t, err, ErrAlreadySignedIn)
	assert.Equal(t, t0, *r.Morning.SignIn)
}

func TestRecord_SignOutTransitions(t *testing.T) {
	r := New("stu", "evt")
	assert.ErrorIs(t, r.SignOut(Morning, t0), ErrNotYetSignedIn)

	require.NoError(t, r.SignIn(Morning, t0))
	require.NoError(t, r.SignOut(Morning, t0.Add(4*time.Hour)))
	assert.Equal(t, SignedOut, r.State(Morning))

	assert.ErrorIs(t, r.SignOut(Morning, t0.Add(5*time.Hour)), ErrAlreadySignedOut)
	assert.ErrorIs(t, r.SignIn(Morning, t0.Add(5*time.Hour)), ErrAlreadySignedIn)
}

func TestRecord_SessionsAreIndependent(t *testing.T) {
	r := New("stu", "evt")
	require.NoError(t, r.SignIn(Morning, t0))
	require.NoError(t, r.SignOut(Morning, t0.Add(3*time.Hour)))
	require.NoError(t, r.SignIn(Afternoon, t0.Add(4*time.Hour)))

	assert.Equal(t, SignedOut, r.State(Morning))
	assert.Equal(t, SignedIn, r.State(Afternoon))
}

func TestRecord_UnknownSession(t *testing.T) {
	r := New("stu", "evt")
	assert.ErrorIs(t, r.SignIn(Session("evening"), t0), ErrUnknownSession)
	assert.ErrorIs(t, r.Apply(Action("toggle"), Morning, t0), ErrUnknownAction)
}

func TestRejection(t *testing.T) {
	assert.ErrorIs(t, Rejection(nil, SignOutAction, Morning), ErrNotYetSignedIn)
	assert.NoError(t, Rejection(nil, SignInAction, Morning))

	r := New("stu", "evt")
	require.NoError(t, r.SignIn(Afternoon, t0))
	assert.ErrorIs(t, Rejection(r, SignInAction, Afternoon), ErrAlreadySignedIn)
	assert.NoError(t, Rejection(r, SignOutAction, Afternoon))
	assert.Nil(t, r.Afternoon.SignOut, "probe must not mutate the record")
}

func TestParse(t *testing.T) {
	s, err := ParseSession("afternoon")
	require.NoError(t, err)
	assert.Equal(t, Afternoon, s)
	_, err = ParseSession("night")
	assert.ErrorIs(t, err, ErrUnknownSession)

	a, err := ParseAction("sign-out")
	require.NoError(t, err)
	assert.Equal(t, SignOutAction, a)
	_, err = ParseAction("signout")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

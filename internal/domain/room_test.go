package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRoom() *Room {
	return &Room{
		ID:            "r1",
		CreatorUID:    "A",
		CreatorEmail:  "a@x.io",
		InvitedEmails: []string{"a@x.io", "b@x.io", "c@x.io"},
		EmceeEmails:   []string{"b@x.io"},
		BlockedUsers:  []BlockedUser{{UID: "Z", Email: "z@x.io"}},
		Status:        RoomOpen,
	}
}

func TestRoomRoles(t *testing.T) {
	r := sampleRoom()

	assert.True(t, r.IsEmcee("A", ""), "creator is implicitly emcee")
	assert.True(t, r.IsEmcee("A2", "A@x.io"), "creator on another client token")
	assert.True(t, r.IsEmcee("B", " B@X.io "))
	assert.False(t, r.IsEmcee("C", "c@x.io"))

	assert.True(t, r.IsInvited("C@x.io"))
	assert.False(t, r.IsInvited("d@x.io"))

	assert.True(t, r.IsBlocked("Z", ""))
	assert.True(t, r.IsBlocked("other-uid", "Z@x.io"))
	assert.False(t, r.IsBlocked("B", "b@x.io"))
}

func TestRoomCloneIsDeep(t *testing.T) {
	r := sampleRoom()
	c := r.Clone()
	c.EmceeEmails[0] = "changed"
	c.BlockedUsers = append(c.BlockedUsers, BlockedUser{UID: "Y"})

	assert.Equal(t, "b@x.io", r.EmceeEmails[0])
	assert.Len(t, r.BlockedUsers, 1)
}

func TestNewUser(t *testing.T) {
	u, err := NewUser("u1", " Ann ", "Ann@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Username)
	assert.Equal(t, "ann@example.com", u.Email)

	_, err = NewUser("u1", "", "a@b.c")
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = NewUser("u1", "Ann", "not-an-email")
	assert.ErrorIs(t, err, ErrEmailInvalid)
}

func TestLanguages(t *testing.T) {
	tag, err := ParseLanguage("th-TH")
	require.NoError(t, err)
	assert.Equal(t, "th-TH", tag)

	_, err = ParseLanguage("??")
	assert.ErrorIs(t, err, ErrInvalidLang)

	assert.True(t, SameLanguage("en-US", "en-GB"))
	assert.False(t, SameLanguage("en-US", "th-TH"))
	assert.False(t, SameLanguage("zh-CN", "zh-TW"))

	assert.Equal(t, "th", BaseLanguage("th-TH"))
	assert.Equal(t, "zh-Hant", BaseLanguage("zh-TW"))
}

package oauth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// fakeAuthenticator is a test double with a couple of fixed accounts and
// optional guest support.
type fakeAuthenticator struct {
	mu           sync.Mutex
	users        map[string]*UserInfo
	passwords    map[string]string
	allowGuests  bool
	guestCounter int
	guests       map[string]*UserInfo
	failWith     error
	closed       bool
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{
		users: map[string]*UserInfo{
			"jdoe": {
				UserID:            "101",
				Email:             "jdoe@example.org",
				EmailVerified:     true,
				PreferredUsername: "jdoe",
				Signature:         "sig-101",
				Supplemental:      map[string]any{"organization": "Example"},
			},
			"nobody": {
				// Resolves to an empty user id; treated as unknown.
				UserID: "",
			},
		},
		passwords: map[string]string{"jdoe": "hunter2"},
		guests:    map[string]*UserInfo{},
	}
}

func (f *fakeAuthenticator) ValidateCredentials(_ context.Context, username, password string) (string, bool, error) {
	if f.failWith != nil {
		return "", false, f.failWith
	}
	if expected, ok := f.passwords[username]; ok && expected == password {
		return f.users[username].UserID, true, nil
	}
	return "", false, nil
}

func (f *fakeAuthenticator) UserByLoginName(_ context.Context, loginName string, _ DataScope) (*UserInfo, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.users[loginName], nil
}

func (f *fakeAuthenticator) OverwritePassword(_ context.Context, username, newPassword string) error {
	f.passwords[username] = newPassword
	return nil
}

func (f *fakeAuthenticator) SupportsGuests() bool { return f.allowGuests }

func (f *fakeAuthenticator) NextGuestID(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guestCounter++
	id := "guest-" + strconv.Itoa(f.guestCounter)
	f.guests[id] = &UserInfo{UserID: id, IsGuest: true}
	return id, nil
}

func (f *fakeAuthenticator) GuestProfile(_ context.Context, userID string) (*UserInfo, error) {
	guest, ok := f.guests[userID]
	if !ok {
		return nil, fmt.Errorf("unknown guest %q", userID)
	}
	return guest, nil
}

func (f *fakeAuthenticator) Close() error {
	f.closed = true
	return nil
}

var _ Authenticator = (*fakeAuthenticator)(nil)

// claimAsInt64 reads a numeric claim regardless of whether the map was
// built in-process (int64) or round-tripped through JSON (float64).
func claimAsInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

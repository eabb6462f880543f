package mailbox

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abuseflow/internal/config"
	"abuseflow/internal/logger"
)

type fakeIMAPClient struct {
	messages map[uint32]string

	loginErr  error
	searchErr error
	fetchErr  error

	loggedIn    bool
	selected    string
	storedUIDs  []uint32
	storedFlags []interface{}
}

func (c *fakeIMAPClient) Login(username, password string) error {
	if c.loginErr != nil {
		return c.loginErr
	}
	c.loggedIn = true
	return nil
}

func (c *fakeIMAPClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	c.selected = name
	return &imap.MailboxStatus{Name: name}, nil
}

func (c *fakeIMAPClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	var uids []uint32
	for uid := range c.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (c *fakeIMAPClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	if c.fetchErr != nil {
		return c.fetchErr
	}

	// Fetch responses carry the section without the PEEK modifier.
	key, err := imap.ParseBodySectionName("BODY[]")
	if err != nil {
		return err
	}

	for uid, raw := range c.messages {
		if !seqset.Contains(uid) {
			continue
		}
		ch <- &imap.Message{
			Uid: uid,
			Body: map[*imap.BodySectionName]imap.Literal{
				key: bytes.NewBufferString(raw),
			},
		}
	}
	return nil
}

func (c *fakeIMAPClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	for uid := range c.messages {
		if seqset.Contains(uid) {
			c.storedUIDs = append(c.storedUIDs, uid)
		}
	}
	if flags, ok := value.([]interface{}); ok {
		c.storedFlags = flags
	}
	return nil
}

func (c *fakeIMAPClient) Logout() error { return nil }

func newTestIMAPSource(fake *fakeIMAPClient) *IMAPSource {
	s := NewIMAPSource(config.MailboxConfig{
		Host:     "imap.example.com",
		Port:     993,
		Username: "abuse@host.example.com",
		Password: "secret",
		Folder:   "INBOX",
	}, logger.NopLogger())
	s.dial = func(addr string) (imapClient, error) {
		return fake, nil
	}
	return s
}

func TestFetchUnseen(t *testing.T) {
	fake := &fakeIMAPClient{
		messages: map[uint32]string{
			11: "From: a@example.com\r\n\r\nbody one",
			12: "From: b@example.com\r\n\r\nbody two",
		},
	}
	source := newTestIMAPSource(fake)

	fetched, err := source.FetchUnseen(context.Background())
	require.NoError(t, err)

	assert.True(t, fake.loggedIn)
	assert.Equal(t, "INBOX", fake.selected)
	require.Len(t, fetched, 2)

	byUID := make(map[uint32]string)
	for _, m := range fetched {
		byUID[m.UID] = string(m.Raw)
		assert.False(t, m.FetchedAt.IsZero())
	}
	assert.Contains(t, byUID[11], "body one")
	assert.Contains(t, byUID[12], "body two")
}

func TestFetchUnseenEmptyMailbox(t *testing.T) {
	source := newTestIMAPSource(&fakeIMAPClient{messages: map[uint32]string{}})

	fetched, err := source.FetchUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fetched)
}

func TestFetchUnseenLoginFailure(t *testing.T) {
	source := newTestIMAPSource(&fakeIMAPClient{loginErr: errors.New("authentication failed")})

	_, err := source.FetchUnseen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSIENT_SOURCE")
}

func TestFetchUnseenSearchFailure(t *testing.T) {
	source := newTestIMAPSource(&fakeIMAPClient{searchErr: errors.New("connection dropped")})

	_, err := source.FetchUnseen(context.Background())
	assert.Error(t, err)
}

func TestFetchUnseenCancelledContext(t *testing.T) {
	source := newTestIMAPSource(&fakeIMAPClient{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.FetchUnseen(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkSeen(t *testing.T) {
	fake := &fakeIMAPClient{
		messages: map[uint32]string{21: "msg", 22: "msg"},
	}
	source := newTestIMAPSource(fake)

	err := source.MarkSeen(context.Background(), []uint32{21, 22})
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint32{21, 22}, fake.storedUIDs)
	require.Len(t, fake.storedFlags, 1)
	assert.Equal(t, imap.SeenFlag, fake.storedFlags[0])
}

func TestMarkSeenNoUIDs(t *testing.T) {
	fake := &fakeIMAPClient{}
	source := newTestIMAPSource(fake)

	require.NoError(t, source.MarkSeen(context.Background(), nil))
	assert.False(t, fake.loggedIn, "no connection is made for an empty batch")
}

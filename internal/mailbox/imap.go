package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"abuseflow/internal/config"
	"abuseflow/internal/logger"
	pkgerrors "abuseflow/pkg/errors"
)

// IMAPSource fetches unseen messages over IMAP. A fresh connection is dialed
// per poll cycle; IMAP connections held across long idle windows get dropped
// by most providers anyway.
type IMAPSource struct {
	cfg    config.MailboxConfig
	logger logger.Logger

	dial func(addr string) (imapClient, error)
}

// imapClient is the subset of the go-imap client the source uses, extracted
// so tests can substitute a fake.
type imapClient interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

func NewIMAPSource(cfg config.MailboxConfig, log logger.Logger) *IMAPSource {
	return &IMAPSource{
		cfg:    cfg,
		logger: log,
		dial: func(addr string) (imapClient, error) {
			return client.DialTLS(addr, nil)
		},
	}
}

func (s *IMAPSource) connect() (imapClient, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	c, err := s.dial(addr)
	if err != nil {
		return nil, pkgerrors.ErrTransientSource.WithCause(fmt.Errorf("dial %s: %w", addr, err))
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return nil, pkgerrors.ErrTransientSource.WithCause(fmt.Errorf("login: %w", err))
	}

	if _, err := c.Select(s.cfg.Folder, false); err != nil {
		c.Logout()
		return nil, pkgerrors.ErrTransientSource.WithCause(fmt.Errorf("select %s: %w", s.cfg.Folder, err))
	}

	return c, nil
}

// FetchUnseen returns all messages in the folder without the \Seen flag.
// Bodies are fetched with BODY.PEEK so the fetch itself never flips the flag;
// only MarkSeen does.
func (s *IMAPSource) FetchUnseen(ctx context.Context) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, pkgerrors.ErrTransientSource.WithCause(fmt.Errorf("uid search: %w", err))
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched []RawMessage
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			s.logger.Warnw("Message fetched without body section", "uid", msg.Uid)
			continue
		}

		raw, err := io.ReadAll(body)
		if err != nil {
			s.logger.Warnw("Failed to read message body", "uid", msg.Uid, "error", err)
			continue
		}

		fetched = append(fetched, RawMessage{
			UID:       msg.Uid,
			Raw:       raw,
			FetchedAt: time.Now(),
		})
	}

	if err := <-done; err != nil {
		return nil, pkgerrors.ErrTransientSource.WithCause(fmt.Errorf("uid fetch: %w", err))
	}

	return fetched, nil
}

// MarkSeen sets the \Seen flag on the given messages.
func (s *IMAPSource) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := s.connect()
	if err != nil {
		return err
	}
	defer c.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := c.UidStore(seqset, item, flags, nil); err != nil {
		return pkgerrors.ErrTransientSource.WithCause(fmt.Errorf("uid store: %w", err))
	}
	return nil
}

func (s *IMAPSource) Close() error {
	return nil
}

// Reader lets the parser consume the message without caring where the bytes
// came from.
func (m RawMessage) Reader() *bytes.Reader {
	return bytes.NewReader(m.Raw)
}

package mailbox

import (
	"context"
	"time"
)

// RawMessage is one unseen message pulled from the mailbox, before parsing.
// UID is the protocol-level identifier used to mark the message seen once it
// has been durably handed off.
type RawMessage struct {
	UID       uint32
	Raw       []byte
	FetchedAt time.Time
}

// Source abstracts the monitored mailbox. FetchUnseen returns messages not
// yet marked seen at the protocol level; MarkSeen is called only after the
// message has been durably handed off, so a crash in between causes
// redelivery, which the dedup ledger absorbs.
type Source interface {
	FetchUnseen(ctx context.Context) ([]RawMessage, error)
	MarkSeen(ctx context.Context, uids []uint32) error
	Close() error
}

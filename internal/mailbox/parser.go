package mailbox

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/models"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Parser converts raw messages into AbuseReports. The message identifier is
// taken from the Message-ID header; content never contributes to it, so a
// redelivered message maps to the same report.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(raw RawMessage) (models.AbuseReport, error) {
	mr, err := mail.CreateReader(raw.Reader())
	if err != nil {
		return models.AbuseReport{}, pkgerrors.ErrParse.WithCause(fmt.Errorf("read message: %w", err))
	}

	header := mr.Header

	messageID, err := header.MessageID()
	if err != nil || messageID == "" {
		return models.AbuseReport{}, pkgerrors.ErrParse.WithCause(fmt.Errorf("missing Message-ID header"))
	}

	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}

	sender := addressString(header, "From")
	if sender == "" {
		return models.AbuseReport{}, pkgerrors.ErrParse.WithCause(fmt.Errorf("missing From header"))
	}
	recipient := addressString(header, "To")

	receivedAt, err := header.Date()
	if err != nil || receivedAt.IsZero() {
		receivedAt = raw.FetchedAt
	}

	body, err := p.extractBody(mr)
	if err != nil {
		return models.AbuseReport{}, pkgerrors.ErrParse.WithCause(fmt.Errorf("extract body: %w", err))
	}

	return models.AbuseReport{
		MessageID:  messageID,
		Sender:     sender,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		Priority:   models.ClassifyPriority(subject, body),
		ReceivedAt: receivedAt.UTC(),
	}, nil
}

// extractBody walks the MIME parts, preferring text/plain and falling back to
// tag-stripped text/html. Attachments are skipped.
func (p *Parser) extractBody(mr *mail.Reader) (string, error) {
	var plain, html strings.Builder

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch contentType {
			case "text/plain":
				plain.Write(content)
			case "text/html":
				html.WriteString(stripHTML(string(content)))
			}
		case *mail.AttachmentHeader:
			// skip
		}
	}

	body := strings.TrimSpace(plain.String())
	if body == "" {
		body = strings.TrimSpace(html.String())
	}
	if body == "" {
		return "", fmt.Errorf("no readable text part")
	}
	return body, nil
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return s
}

func addressString(header mail.Header, field string) string {
	addrs, err := header.AddressList(field)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(header.Get(field))
	}
	return addrs[0].Address
}

package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/valyala/fasthttp"
	"golang.org/x/oauth2"

	"growthos/models"
	"growthos/utils"
)

// FetchedMessage is a message as a channel reports it, before it is stored.
type FetchedMessage struct {
	ExternalID  string
	ThreadID    string
	FromName    string
	FromAddress string
	ToAddress   string
	Subject     string
	Body        string
	BodyHTML    string
	ReceivedAt  time.Time
	IsRead      bool
}

// ChannelSource talks to one messaging channel on behalf of a connected account.
type ChannelSource interface {
	Channel() string
	Fetch(ctx context.Context, account *models.ChannelAccount) ([]FetchedMessage, error)
	Reply(ctx context.Context, account *models.ChannelAccount, msg *models.InboxMessage, body string) error
}

// ========= Email (IMAP in, SMTP out) =========

const imapLookback = 7 * 24 * time.Hour

type IMAPSource struct {
	Mailer utils.Mailer
	// Fallback is the relay used for accounts without their own SMTP host.
	Fallback utils.SMTPSettings
	Now      func() time.Time
}

func (s *IMAPSource) Channel() string { return models.ChannelEmail }

func (s *IMAPSource) Fetch(ctx context.Context, account *models.ChannelAccount) ([]FetchedMessage, error) {
	if account.IMAPHost == "" {
		return nil, fmt.Errorf("account %d has no IMAP host", account.ID)
	}

	password, err := utils.Decrypt(account.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	c, err := dialIMAP(account)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(account.IMAPUsername, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := account.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	since := now().Add(-imapLookback)
	if account.LastSyncedAt != nil {
		since = *account.LastSyncedAt
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched []FetchedMessage
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		fm, err := parseIMAPMessage(msg, section)
		if err != nil {
			continue
		}
		fetched = append(fetched, fm)
	}

	if err := <-done; err != nil {
		return fetched, fmt.Errorf("error during fetch: %w", err)
	}
	return fetched, ctx.Err()
}

func (s *IMAPSource) Reply(_ context.Context, account *models.ChannelAccount, msg *models.InboxMessage, body string) error {
	settings, err := s.smtpSettings(account)
	if err != nil {
		return err
	}

	subject := msg.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	return s.Mailer.Send(settings, utils.OutgoingMail{
		To:        msg.FromAddress,
		Subject:   subject,
		Body:      body,
		InReplyTo: msg.ExternalID,
	})
}

func (s *IMAPSource) smtpSettings(account *models.ChannelAccount) (utils.SMTPSettings, error) {
	if account.SMTPHost == "" {
		if s.Fallback.Host == "" {
			return utils.SMTPSettings{}, fmt.Errorf("account %d has no SMTP host", account.ID)
		}
		settings := s.Fallback
		if account.Address != "" {
			settings.From = account.Address
		}
		return settings, nil
	}

	password, err := utils.Decrypt(account.SMTPPassword)
	if err != nil {
		return utils.SMTPSettings{}, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}
	return utils.SMTPSettings{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		Username: account.SMTPUsername,
		Password: password,
		From:     account.Address,
	}, nil
}

func dialIMAP(account *models.ChannelAccount) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	tlsConfig := &tls.Config{ServerName: account.IMAPHost}

	switch strings.ToUpper(account.IMAPEncryption) {
	case "SSL", "TLS":
		return client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err := client.Dial(addr)
		if err != nil {
			return nil, err
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			return nil, err
		}
		return c, nil
	default:
		return client.Dial(addr)
	}
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (FetchedMessage, error) {
	if msg.Envelope == nil {
		return FetchedMessage{}, fmt.Errorf("message %d has no envelope", msg.Uid)
	}

	fm := FetchedMessage{
		ExternalID: msg.Envelope.MessageId,
		ThreadID:   msg.Envelope.InReplyTo,
		ToAddress:  formatAddresses(msg.Envelope.To),
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}
	if fm.ExternalID == "" {
		fm.ExternalID = fmt.Sprintf("uid-%d", msg.Uid)
	}
	if fm.ThreadID == "" {
		fm.ThreadID = fm.ExternalID
	}
	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		fm.FromName = from.PersonalName
		fm.FromAddress = from.Address()
	}
	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			fm.IsRead = true
		}
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return fm, nil
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return fm, fmt.Errorf("failed to create message reader: %w", err)
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return fm, fmt.Errorf("failed to read next part: %w", err)
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return fm, fmt.Errorf("failed to read body: %w", err)
			}
			switch {
			case strings.Contains(contentType, "text/html"):
				fm.BodyHTML = string(b)
			case strings.Contains(contentType, "text/plain"):
				fm.Body = string(b)
			}
		}
	}
	return fm, nil
}

func formatAddresses(addrs []*imap.Address) string {
	var result []string
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			result = append(result, fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address()))
		} else {
			result = append(result, addr.Address())
		}
	}
	return strings.Join(result, ", ")
}

// ========= LinkedIn (REST, OAuth2 bearer) =========

type LinkedInSource struct {
	BaseURL string
}

type linkedInMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	From     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
	Read      bool   `json:"read"`
}

func (s *LinkedInSource) Channel() string { return models.ChannelLinkedIn }

func (s *LinkedInSource) client(ctx context.Context, account *models.ChannelAccount) (*http.Client, error) {
	token, err := utils.Decrypt(account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("account %d has no access token", account.ID)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})), nil
}

func (s *LinkedInSource) Fetch(ctx context.Context, account *models.ChannelAccount) ([]FetchedMessage, error) {
	httpClient, err := s.client(ctx, account)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/messages?q=recipient"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linkedin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("linkedin returned status %d", resp.StatusCode)
	}

	var payload struct {
		Elements []linkedInMessage `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode linkedin response: %w", err)
	}

	fetched := make([]FetchedMessage, 0, len(payload.Elements))
	for _, m := range payload.Elements {
		fetched = append(fetched, FetchedMessage{
			ExternalID:  m.ID,
			ThreadID:    m.ThreadID,
			FromName:    m.From.Name,
			FromAddress: m.From.ID,
			ToAddress:   account.Address,
			Body:        m.Text,
			ReceivedAt:  time.UnixMilli(m.CreatedAt).UTC(),
			IsRead:      m.Read,
		})
	}
	return fetched, nil
}

func (s *LinkedInSource) Reply(ctx context.Context, account *models.ChannelAccount, msg *models.InboxMessage, body string) error {
	httpClient, err := s.client(ctx, account)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"threadId":  msg.ThreadID,
		"recipient": msg.FromAddress,
		"text":      body,
	})
	if err != nil {
		return err
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("linkedin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("linkedin returned status %d", resp.StatusCode)
	}
	return nil
}

// ========= WhatsApp (Cloud API) =========

// WhatsAppSource only sends. Inbound WhatsApp messages are pushed to the webhook endpoint.
type WhatsAppSource struct {
	BaseURL string
	Client  *fasthttp.Client
	Timeout time.Duration
}

func (s *WhatsAppSource) Channel() string { return models.ChannelWhatsApp }

func (s *WhatsAppSource) Fetch(context.Context, *models.ChannelAccount) ([]FetchedMessage, error) {
	return nil, nil
}

func (s *WhatsAppSource) Reply(_ context.Context, account *models.ChannelAccount, msg *models.InboxMessage, body string) error {
	token, err := utils.Decrypt(account.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                msg.FromAddress,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.BaseURL, "/"), account.Address))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.SetBody(payload)

	httpClient := s.Client
	if httpClient == nil {
		httpClient = &fasthttp.Client{}
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	if err := httpClient.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("whatsapp returned status %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// addressPrefix marks a Twilio address as a WhatsApp channel.
const addressPrefix = "whatsapp:"

// Sender delivers one outbound text message to an identity.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Identity normalizes a Twilio From value ("whatsapp:+15551234567")
// into the bare E.164 number used as the conversation identity.
func Identity(from string) string {
	s := strings.TrimSpace(from)
	s = strings.TrimPrefix(s, addressPrefix)
	s = strings.ReplaceAll(s, " ", "")
	if s != "" && !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}

// Address formats a number as a Twilio WhatsApp address.
func Address(number string) string {
	id := Identity(number)
	if id == "" {
		return ""
	}
	return addressPrefix + id
}

// messageCreator is the slice of the Twilio REST API the sender uses.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender sends WhatsApp messages through the Twilio REST API.
type TwilioSender struct {
	api    messageCreator
	from   string
	limit  int
	logger *slog.Logger
}

// NewTwilioSender creates a sender for the given account. from is the
// WhatsApp-enabled Twilio number.
func NewTwilioSender(accountSID, authToken, from string, limit int, logger *slog.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSender(client.Api, from, limit, logger)
}

func newTwilioSender(api messageCreator, from string, limit int, logger *slog.Logger) *TwilioSender {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = MaxMessageLength
	}
	return &TwilioSender{
		api:    api,
		from:   Address(from),
		limit:  limit,
		logger: logger.With("component", "whatsapp"),
	}
}

// Send delivers body to the identity to, truncating it to the message
// limit. The Twilio client does not take a context, so cancellation is
// only checked before the request.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := Address(to)
	if addr == "" {
		return errors.New("send: recipient is required")
	}
	if body == "" {
		return errors.New("send: body is required")
	}
	if n := len([]rune(body)); n > s.limit {
		s.logger.Warn("reply exceeds message limit, truncating",
			"to", to,
			"length", n,
			"limit", s.limit,
		)
		body = Truncate(body, s.limit)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(addr)
	params.SetFrom(s.from)
	params.SetBody(body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}

	var sid string
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	s.logger.Debug("whatsapp message sent", "to", to, "sid", sid, "length", len([]rune(body)))
	return nil
}

/**
 * @description
 * This package sends transactional SMS messages through Twilio.
 *
 * @dependencies
 * - github.com/twilio/twilio-go: Twilio REST client.
 */
package smsclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrNotConfigured = errors.New("sms sender is not configured")

// messageCreator is the slice of the Twilio API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client sends SMS messages from a fixed number.
type Client struct {
	api        messageCreator
	fromNumber string
}

// NewClient creates a Twilio-backed SMS client.
func NewClient(accountSID, authToken, fromNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, fromNumber: fromNumber}
}

// Send delivers body to the given phone number.
func (c *Client) Send(ctx context.Context, to, body string) error {
	if c == nil || c.api == nil || strings.TrimSpace(c.fromNumber) == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		log.Printf("level=warn component=sms_client op=send to=%s err=%v", maskPhone(to), err)
		return fmt.Errorf("failed to send sms: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		log.Printf("level=info component=sms_client op=send to=%s sid=%s", maskPhone(to), *resp.Sid)
	}
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

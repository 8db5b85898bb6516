package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"gopkg.in/gomail.v2"
)

// sesAPI is the slice of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport sends mail through AWS SES
type SESTransport struct {
	client      sesAPI
	fromAddress string
}

// NewSESTransport loads the default AWS credential chain for region
func NewSESTransport(ctx context.Context, region, fromAddress string) (*SESTransport, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESTransport{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
	}, nil
}

func (t *SESTransport) Send(ctx context.Context, msg OutboundEmail) error {
	input := &ses.SendEmailInput{
		Source: aws.String(t.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTMLBody)},
				Text: &types.Content{Data: aws.String(msg.TextBody)},
			},
		},
	}

	if _, err := t.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}
	return nil
}

// smtpDialer is satisfied by *gomail.Dialer
type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport sends mail through an SMTP relay
type SMTPTransport struct {
	dialer      smtpDialer
	fromAddress string
}

func NewSMTPTransport(host string, port int, username, password, fromAddress string) *SMTPTransport {
	return &SMTPTransport{
		dialer:      gomail.NewDialer(host, port, username, password),
		fromAddress: fromAddress,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg OutboundEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.fromAddress)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	// Mail clients render the last alternative they support
	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	if err := t.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

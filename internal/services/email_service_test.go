package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type mockTransport struct {
	SendFunc func(ctx context.Context, msg OutboundEmail) error
	sent     []OutboundEmail
}

func (m *mockTransport) Send(ctx context.Context, msg OutboundEmail) error {
	m.sent = append(m.sent, msg)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

func TestTemplatedEmailService_SendVerificationCode(t *testing.T) {
	transport := &mockTransport{}
	svc := NewTemplatedEmailService(transport, "https://app.example.com/reset-password", testLogger())

	err := svc.SendVerificationCode(context.Background(), "patient@example.com", "482913", time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	require.Len(t, transport.sent, 1)
	msg := transport.sent[0]
	assert.Equal(t, "patient@example.com", msg.To)
	assert.Equal(t, "Email Verification - Doctor Appointment System", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "482913")
	assert.Contains(t, msg.TextBody, "482913")
	assert.Contains(t, msg.TextBody, "10 minutes")
}

func TestTemplatedEmailService_SendPasswordResetLink(t *testing.T) {
	transport := &mockTransport{}
	svc := NewTemplatedEmailService(transport, "https://app.example.com/reset-password", testLogger())

	err := svc.SendPasswordResetLink(context.Background(), "patient@example.com", "tok+en/1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	msg := transport.sent[0]
	assert.Contains(t, msg.TextBody, "https://app.example.com/reset-password?token=tok%2Ben%2F1")
	assert.Contains(t, msg.TextBody, "1 hour")
}

func TestResetLink(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://app.example.com/reset-password", "https://app.example.com/reset-password?token=abc"},
		{"https://app.example.com/reset-password?lang=en", "https://app.example.com/reset-password?lang=en&token=abc"},
		{"https://app.example.com/reset-password?token=stale", "https://app.example.com/reset-password?token=abc"},
		{"https://app.example.com/#/reset", "https://app.example.com/?token=abc#/reset"},
	}
	for _, tt := range tests {
		got, err := resetLink(tt.base, "abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.base)
	}

	_, err := resetLink("://bad", "abc")
	assert.Error(t, err)
}

func TestTemplatedEmailService_TransportFailure(t *testing.T) {
	transport := &mockTransport{SendFunc: func(context.Context, OutboundEmail) error {
		return errors.New("relay refused")
	}}
	svc := NewTemplatedEmailService(transport, "", testLogger())

	err := svc.SendVerificationCode(context.Background(), "a@b.com", "123456", time.Now().Add(time.Minute))
	assert.ErrorContains(t, err, "relay refused")
}

func TestHumanMinutes(t *testing.T) {
	assert.Equal(t, "10 minutes", humanMinutes(10*time.Minute-time.Second))
	assert.Equal(t, "1 minute", humanMinutes(0))
	assert.Equal(t, "1 hour", humanMinutes(time.Hour))
	assert.Equal(t, "2 hours", humanMinutes(2*time.Hour))
}

type mockSES struct {
	input *ses.SendEmailInput
	err   error
}

func (m *mockSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESTransport_Send(t *testing.T) {
	client := &mockSES{}
	transport := &SESTransport{client: client, fromAddress: "no-reply@example.com"}

	err := transport.Send(context.Background(), OutboundEmail{To: "a@b.com", Subject: "S", HTMLBody: "<p>h</p>", TextBody: "t"})
	require.NoError(t, err)

	assert.Equal(t, "no-reply@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"a@b.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "S", aws.ToString(client.input.Message.Subject.Data))
	assert.Equal(t, "t", aws.ToString(client.input.Message.Body.Text.Data))
}

func TestSESTransport_Error(t *testing.T) {
	transport := &SESTransport{client: &mockSES{err: errors.New("throttled")}, fromAddress: "x@y.com"}

	err := transport.Send(context.Background(), OutboundEmail{To: "a@b.com"})
	assert.ErrorContains(t, err, "throttled")
}

type mockDialer struct {
	messages []*gomail.Message
	err      error
}

func (m *mockDialer) DialAndSend(msgs ...*gomail.Message) error {
	m.messages = append(m.messages, msgs...)
	return m.err
}

func TestSMTPTransport_Send(t *testing.T) {
	dialer := &mockDialer{}
	transport := &SMTPTransport{dialer: dialer, fromAddress: "no-reply@example.com"}

	err := transport.Send(context.Background(), OutboundEmail{To: "a@b.com", Subject: "Hello", HTMLBody: "<p>x</p>", TextBody: "x"})
	require.NoError(t, err)

	require.Len(t, dialer.messages, 1)
	m := dialer.messages[0]
	assert.Equal(t, []string{"no-reply@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"a@b.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Hello"}, m.GetHeader("Subject"))

	var raw bytes.Buffer
	_, err = m.WriteTo(&raw)
	require.NoError(t, err)
	body := raw.String()
	plain := strings.Index(body, "Content-Type: text/plain")
	html := strings.Index(body, "Content-Type: text/html")
	require.NotEqual(t, -1, plain)
	require.NotEqual(t, -1, html)
	assert.Less(t, plain, html, "HTML is the preferred, last alternative")
}

func TestSMTPTransport_CancelledContext(t *testing.T) {
	dialer := &mockDialer{}
	transport := &SMTPTransport{dialer: dialer}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := transport.Send(ctx, OutboundEmail{To: "a@b.com"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dialer.messages)
}

func TestSMTPTransport_DialError(t *testing.T) {
	transport := &SMTPTransport{dialer: &mockDialer{err: errors.New("connection refused")}}

	err := transport.Send(context.Background(), OutboundEmail{To: "a@b.com"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "smtp send failed"))
}

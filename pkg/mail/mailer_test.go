package mail

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	from    string
	rcpts   []string
	data    strings.Builder
	quit    bool
	authErr error
	authed  bool
}

func (c *scriptedClient) Mail(from string) error { c.from = from; return nil }
func (c *scriptedClient) Rcpt(to string) error   { c.rcpts = append(c.rcpts, to); return nil }
func (c *scriptedClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&c.data}, nil
}
func (c *scriptedClient) Quit() error                     { c.quit = true; return nil }
func (c *scriptedClient) Close() error                    { return nil }
func (c *scriptedClient) StartTLS(*tls.Config) error      { return nil }
func (c *scriptedClient) Auth(smtp.Auth) error            { c.authed = true; return c.authErr }
func (c *scriptedClient) Extension(string) (bool, string) { return false, "" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(t *testing.T, client *scriptedClient) Mailer {
	t.Helper()
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		Username: "user",
		Password: "pass",
		From:     "noreply@example.com",
	})
	require.NoError(t, err)

	m, ok := mailer.(*smtpMailer)
	require.True(t, ok)
	m.dialFn = func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
		server, _ := net.Pipe()
		return server, client, nil
	}
	m.authFn = defaultAuthFunc
	return m
}

func TestSendPlainText(t *testing.T) {
	client := &scriptedClient{}
	mailer := newTestMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"owner@example.com"},
		Subject:  "Appointment reminder",
		TextBody: "See you at noon",
	})
	require.NoError(t, err)

	require.True(t, client.authed)
	require.Equal(t, "noreply@example.com", client.from)
	require.Equal(t, []string{"owner@example.com"}, client.rcpts)
	require.True(t, client.quit)

	body := client.data.String()
	require.Contains(t, body, "Subject: Appointment reminder")
	require.Contains(t, body, "Content-Type: text/plain")
	require.Contains(t, body, "See you at noon")
	require.NotContains(t, body, "multipart/alternative")
}

func TestSendMultipartWithHTML(t *testing.T) {
	client := &scriptedClient{}
	mailer := newTestMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"owner@example.com"},
		Subject:  "Appointment reminder",
		TextBody: "See you at noon",
		HTMLBody: "<p>See you at noon</p>",
	})
	require.NoError(t, err)

	body := client.data.String()
	require.Contains(t, body, "multipart/alternative")
	require.Contains(t, body, "Content-Type: text/plain; charset=UTF-8")
	require.Contains(t, body, "Content-Type: text/html; charset=UTF-8")
	require.Contains(t, body, "<p>See you at noon</p>")
}

func TestSendDeduplicatesRecipients(t *testing.T) {
	client := &scriptedClient{}
	mailer := newTestMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"a@example.com", "a@example.com", " b@example.com "},
		Subject:  "s",
		TextBody: "b",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, client.rcpts)
}

func TestSendRejectsInvalidAddresses(t *testing.T) {
	client := &scriptedClient{}
	mailer := newTestMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"not-an-address"},
		Subject:  "s",
		TextBody: "b",
	})
	require.Error(t, err)

	err = mailer.Send(context.Background(), Message{Subject: "s", TextBody: "b"})
	require.Error(t, err, "at least one recipient is required")
}

func TestSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestEscapeHeaderStripsNewlines(t *testing.T) {
	require.Equal(t, "a b c", escapeHeader("a\rb\nc"))
}

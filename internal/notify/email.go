// Package notify delivers codes and action tokens to users by e-mail.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"log"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const dialTimeout = 5 * time.Second

type Mailer struct {
	host string
	port int
	user string
	pass string
	from string
	// If true, skip TLS certificate verification (local dev relays such as MailHog).
	InsecureSkipVerify bool
}

func NewMailer(host string, port int, user, pass, from string) *Mailer {
	return &Mailer{host: host, port: port, user: user, pass: pass, from: from}
}

// buildMessage renders the headers and HTML body of one message. Headers are sorted for stable output.
func buildMessage(from, to, subject, htmlBody string) []byte {
	headers := map[string]string{
		"From":         from,
		"To":           to,
		"Subject":      encodeRFC2047(subject),
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k + ": " + headers[k] + "\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(htmlBody)
	return []byte(sb.String())
}

// send delivers one HTML message. Works with relays without auth and with PlainAuth servers.
func (m *Mailer) send(ctx context.Context, to, subject, htmlBody string) error {
	if m.host == "" {
		return fmt.Errorf("notify: SMTP host not configured")
	}
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Quit(); err != nil {
			log.Printf("notify: smtp quit: %v", err)
		}
	}()

	if err := c.Hello("localhost"); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		cfg := &tls.Config{ServerName: m.host, InsecureSkipVerify: m.InsecureSkipVerify}
		if err := c.StartTLS(cfg); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(m.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(m.from, to, subject, htmlBody)); err != nil {
		return err
	}
	return w.Close()
}

// SendCode mails a one-time sign-in code. Does not log the code.
func (m *Mailer) SendCode(ctx context.Context, to, code string) error {
	body := fmt.Sprintf(`<h2>Sign-in verification</h2><p>Your code: <b>%s</b></p>`, html.EscapeString(code))
	return m.send(ctx, to, "Your sign-in code", body)
}

// SendActionToken mails a password reset or registration token that is valid for validity.
func (m *Mailer) SendActionToken(ctx context.Context, to, purpose, token string, validity time.Duration) error {
	subject := "Confirm your account"
	heading := "Account confirmation"
	if purpose == "password_reset" {
		subject = "Reset your password"
		heading = "Password reset"
	}
	body := fmt.Sprintf(`<h2>%s</h2><p>Your token: <b>%s</b></p><p>It is valid for %s.</p>`,
		heading, html.EscapeString(token), validity.Round(time.Minute))
	return m.send(ctx, to, subject, body)
}

// encodeRFC2047 Q-encodes a subject line.
func encodeRFC2047(s string) string {
	return fmt.Sprintf("=?UTF-8?Q?%s?=", qEncode(s))
}

func qEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('_')
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

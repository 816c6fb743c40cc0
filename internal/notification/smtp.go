package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ticketdesk/ticket-service/internal/config"
	"github.com/ticketdesk/ticket-service/internal/domain"
)

var escalationTemplate = template.Must(template.New("escalation").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #d32f2f;">Ticket Escalation Alert</h2>
  <div style="background-color: #f5f5f5; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <h3>Ticket Details:</h3>
    <p><strong>Ticket ID:</strong> {{.Number}}</p>
    <p><strong>Title:</strong> {{.Title}}</p>
    <p><strong>Priority:</strong> {{.Priority}}</p>
    <p><strong>Created:</strong> {{.Created}}</p>
    <p><strong>Escalation Level:</strong> {{.Tier}}</p>
  </div>
  <div style="background-color: #fff3cd; padding: 15px; border-radius: 8px; border-left: 4px solid #ffc107;">
    <p><strong>Action Required:</strong></p>
    <p>This ticket has been escalated to {{.Tier}} and requires immediate attention.</p>
    <p>Please assign an available {{.Tier}} team member to resolve this issue promptly.</p>
  </div>
  <div style="margin-top: 30px; text-align: center;">
    <p style="color: #666; font-size: 12px;">This is an automated notification from the Ticket Management System.</p>
  </div>
</div>
`))

type escalationView struct {
	Number   string
	Title    string
	Priority string
	Created  string
	Tier     domain.EscalationLevel
}

// deliverFunc hands a finished message to the mail server.
type deliverFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPGateway mails escalation alerts to the configured escalation address.
type SMTPGateway struct {
	cfg     config.NotificationConfig
	logger  *zap.Logger
	timeout time.Duration
	deliver deliverFunc
}

// NewSMTPGateway builds a gateway from config.
func NewSMTPGateway(cfg config.NotificationConfig, logger *zap.Logger) *SMTPGateway {
	g := &SMTPGateway{
		cfg:     cfg,
		logger:  logger.Named("smtp"),
		timeout: cfg.Timeout(),
	}
	g.deliver = g.dialAndSend
	return g
}

// Configured reports whether an SMTP host is set.
func (g *SMTPGateway) Configured() bool {
	return strings.TrimSpace(g.cfg.SMTPHost) != ""
}

// SendEscalationEmail renders and sends the alert, bounded by the configured
// timeout. Any failure is logged and reported as false.
func (g *SMTPGateway) SendEscalationEmail(ctx context.Context, ticket *domain.Ticket, tier domain.EscalationLevel) bool {
	if !g.Configured() {
		g.logger.Warn("smtp host not configured; escalation email not sent",
			zap.String("ticket_number", ticket.TicketNumber))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.buildMessage(ticket, tier)
	if err != nil {
		g.logger.Error("render escalation email", zap.Error(err), zap.String("ticket_number", ticket.TicketNumber))
		return false
	}

	done := make(chan error, 1)
	go func() {
		done <- g.deliver(ctx, g.cfg.EmailFrom, []string{g.cfg.EscalationEmail}, msg)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		g.logger.Error("send escalation email", zap.Error(err), zap.String("ticket_number", ticket.TicketNumber))
		return false
	}
	g.logger.Info("escalation email sent",
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("tier", string(tier)))
	return true
}

func (g *SMTPGateway) buildMessage(ticket *domain.Ticket, tier domain.EscalationLevel) ([]byte, error) {
	var body bytes.Buffer
	if err := escalationTemplate.Execute(&body, escalationView{
		Number:   ticket.TicketNumber,
		Title:    ticket.Title,
		Priority: strings.ToUpper(string(ticket.Priority)),
		Created:  ticket.CreatedAt.Local().Format("2006-01-02 15:04:05 MST"),
		Tier:     tier,
	}); err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("URGENT: Ticket %s Escalated to %s", ticket.TicketNumber, tier)
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", g.cfg.EmailFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", g.cfg.EscalationEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func (g *SMTPGateway) dialAndSend(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(g.cfg.SMTPHost, strconv.Itoa(g.cfg.SMTPPort))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, g.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: g.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	if g.cfg.SMTPUser != "" {
		if err := client.Auth(smtp.PlainAuth("", g.cfg.SMTPUser, g.cfg.SMTPPassword, g.cfg.SMTPHost)); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

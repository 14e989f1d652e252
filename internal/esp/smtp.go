package esp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

// SMTPTransport delivers over SMTP, one connection per message. With
// StartTLS set the server must offer STARTTLS or the send fails.
type SMTPTransport struct {
	cfg  SMTPConfig
	addr string
	tls  *tls.Config
	now  func() time.Time
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		tls:  &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:  time.Now,
	}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	raw, err := BuildMIME(msg, t.now())
	if err != nil {
		return "", domain.NewSendError(domain.CategoryValidation, true, fmt.Errorf("build message: %w", err))
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return "", classifyNetError(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// Unblock any in-flight command when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := t.newClient(conn)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return "", classifyNetError(ctx.Err())
		}
		logger.Warn("SMTP STARTTLS failed", "addr", t.addr, "error", err.Error())
		return "", classifyStartTLSError(err)
	}
	defer c.Close()

	if err := t.deliver(c, msg, raw); err != nil {
		if ctx.Err() != nil {
			return "", classifyNetError(ctx.Err())
		}
		logger.Warn("SMTP send failed", "email", msg.To, "error", err.Error())
		return "", classifySMTPError(err)
	}

	logger.Debug("SMTP sent", "email", msg.To, "message_id", msg.ID)
	return msg.ID, nil
}

func (t *SMTPTransport) newClient(conn net.Conn) (*smtp.Client, error) {
	if !t.cfg.StartTLS {
		return smtp.NewClient(conn), nil
	}
	return smtp.NewClientStartTLS(conn, t.tls)
}

func (t *SMTPTransport) deliver(c *smtp.Client, msg *domain.OutboundMessage, raw []byte) error {
	localName := t.cfg.LocalName
	if localName == "" {
		localName = "localhost"
	}
	if err := c.Hello(localName); err != nil {
		return err
	}
	if t.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			return err
		}
	}
	if err := c.Mail(msg.FromEmail, nil); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// classifyStartTLSError keeps reply codes and network failures as they are;
// anything else means the server cannot do TLS, which retrying won't fix.
func classifyStartTLSError(err error) error {
	var se *smtp.SMTPError
	var ne net.Error
	if errors.As(err, &se) || errors.As(err, &ne) {
		return classifySMTPError(err)
	}
	return domain.NewSendError(domain.CategoryTransport, true, fmt.Errorf("starttls: %w", err))
}

// classifySMTPError maps SMTP reply codes onto the failure taxonomy.
func classifySMTPError(err error) error {
	var se *smtp.SMTPError
	if !errors.As(err, &se) {
		return classifyNetError(err)
	}
	wrapped := fmt.Errorf("smtp %d: %w", se.Code, err)
	switch {
	case se.Code == 535 || se.Code == 530 || se.Code == 534:
		return domain.NewSendError(domain.CategoryAuthentication, true, wrapped)
	case se.Code == 550 || se.Code == 551 || se.Code == 553:
		return domain.NewSendError(domain.CategoryInvalidRecipient, true, wrapped)
	case se.Code == 421 || (se.Code >= 450 && se.Code < 460):
		return domain.NewSendError(domain.CategoryTransport, false, wrapped)
	case se.Code >= 500:
		return domain.NewSendError(domain.CategoryTransport, true, wrapped)
	default:
		return domain.NewSendError(domain.CategoryTransport, false, wrapped)
	}
}

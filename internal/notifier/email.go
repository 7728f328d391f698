package notifier

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/trendwatch/config"
)

// TokenSigner issues the unsubscribe token embedded in each message.
type TokenSigner func(email string) (string, error)

// EmailNotifier sends plain-text mail over SMTP, upgrading with STARTTLS
// when the server offers it.
type EmailNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration

	// PublicBaseURL and Sign build the unsubscribe link; both are optional.
	PublicBaseURL string
	Sign          TokenSigner

	limiter *rate.Limiter
	send    func(ctx context.Context, msg *mail.Msg) error
	logger  *log.Logger
}

// NewEmailNotifier builds a notifier from cfg. Outbound messages are spread
// at cfg.RatePerMinute.
func NewEmailNotifier(cfg config.NotifierConfig, publicBaseURL string, sign TokenSigner, logger *log.Logger) *EmailNotifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
	}
	host := cfg.SMTPHost
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	from := cfg.FromAddress
	if from == "" {
		from = cfg.SMTPUser
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	n := &EmailNotifier{
		Host:          host,
		Port:          port,
		Username:      cfg.SMTPUser,
		Password:      cfg.SMTPPass,
		From:          from,
		Timeout:       timeout,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		Sign:          sign,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:        logger,
	}
	n.send = n.sendSMTP
	return n
}

func (n *EmailNotifier) Deliver(ctx context.Context, address string, trends []TrendPayload) error {
	if len(trends) == 0 {
		return ErrNoTrends
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	msg, err := n.compose(address, trends)
	if err != nil {
		return err
	}
	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", address, err)
	}
	n.logger.Printf("sent %d trend(s) to %s", len(trends), address)
	return nil
}

func (n *EmailNotifier) compose(address string, trends []TrendPayload) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(address); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	m.Subject(Subject(trends))
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, Body(trends, n.unsubscribeURL(address)))
	return m, nil
}

func (n *EmailNotifier) unsubscribeURL(address string) string {
	if n.PublicBaseURL == "" || n.Sign == nil {
		return ""
	}
	tok, err := n.Sign(address)
	if err != nil {
		n.logger.Printf("unsubscribe token for %s: %v", address, err)
		return ""
	}
	return n.PublicBaseURL + "/api/subscriptions/unsubscribe?token=" + url.QueryEscape(tok)
}

func (n *EmailNotifier) sendSMTP(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.Port),
		mail.WithTimeout(n.Timeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if n.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.Username),
			mail.WithPassword(n.Password),
		)
	}
	client, err := mail.NewClient(n.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

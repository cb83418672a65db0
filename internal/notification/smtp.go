package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) SendOrderConfirmation(ctx context.Context, order orderdomain.Order) error {
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	subject := fmt.Sprintf("Order %s confirmed", order.OrderNumber)
	body := confirmationBody(order)
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", order.CustomerEmail, subject, mime, body))

	return smtp.SendMail(addr, auth, p.cfg.From, []string{order.CustomerEmail}, msg)
}

func confirmationBody(order orderdomain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", order.CustomerName)
	fmt.Fprintf(&b, "<p>Thanks for your order <strong>%s</strong>.</p>", order.OrderNumber)
	b.WriteString("<ul>")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "<li>%s &times; %d</li>", item.Name, item.Quantity)
	}
	b.WriteString("</ul>")
	fmt.Fprintf(&b, "<p>Total: %d.%02d %s</p>", order.Total/100, order.Total%100, order.Currency)
	return b.String()
}

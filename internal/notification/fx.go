package notification

import (
	"github.com/smallcraft/commerce-core/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if !cfg.Email.Enabled || cfg.Email.SMTPHost == "" {
		return &NoOpProvider{}
	}
	return NewSMTP(SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}

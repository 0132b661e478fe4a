package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-section rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}

	n := cfg.Negotiate
	if !n.Kerberos.Enabled && !n.NTLM.Enabled {
		return errors.New("negotiate: at least one of kerberos or ntlm must be enabled")
	}
	if n.ServicePrincipal == "" {
		return errors.New("negotiate.service_principal is required")
	}
	if n.NTLM.Enabled && cfg.Accounts.Database.Type == DatabaseTypeNone && len(cfg.Accounts.Static) == 0 {
		return errors.New("ntlm is enabled but no accounts are configured (set accounts.database or accounts.static)")
	}
	if cfg.Accounts.Database.Type == DatabaseTypePostgres {
		pg := cfg.Accounts.Database.Postgres
		if pg.Host == "" || pg.Database == "" || pg.User == "" {
			return errors.New("accounts.database.postgres requires host, database and user")
		}
	}

	seen := make(map[string]bool, len(cfg.Accounts.Static))
	for _, a := range cfg.Accounts.Static {
		key := strings.ToLower(a.Domain + `\` + a.Username)
		if seen[key] {
			return fmt.Errorf("accounts.static: duplicate account %q", a.Username)
		}
		seen[key] = true
	}

	return nil
}

// formatValidationErrors renders validator errors as "Field: tag=param" lines.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}

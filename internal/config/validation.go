package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate performs fail-fast validation of the base configuration.
// External collaborator credentials are validated separately by
// ValidateServe because commands like migrate do not need them.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidListenAddr)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidListenAddr, c.ListenAddr)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresDBName)
	}

	if c.RateBurst < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRateBurst, c.RateBurst)
	}

	return nil
}

// ValidateServe validates the additional settings the HTTP server needs:
// the API bearer token and the external collaborator credentials.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.APIToken) == "" {
		return fmt.Errorf("%w: set QUICKDESK_API_TOKEN", ErrMissingAPIToken)
	}

	if strings.TrimSpace(c.Jira.BaseURL) == "" {
		return fmt.Errorf("%w: set QUICKDESK_JIRA_BASE_URL", ErrMissingJiraBaseURL)
	}
	if strings.TrimSpace(c.Jira.Email) == "" || strings.TrimSpace(c.Jira.APIToken) == "" {
		return fmt.Errorf("%w: set QUICKDESK_JIRA_EMAIL and QUICKDESK_JIRA_API_TOKEN", ErrMissingJiraCredentials)
	}
	if strings.TrimSpace(c.Jira.ProjectKey) == "" {
		return fmt.Errorf("%w: set QUICKDESK_JIRA_PROJECT_KEY", ErrMissingJiraProject)
	}

	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return fmt.Errorf("%w: set QUICKDESK_GATEWAY_BASE_URL", ErrMissingGatewayURL)
	}

	return nil
}

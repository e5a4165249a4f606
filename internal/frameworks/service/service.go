// Package service is the registry of mountable HTTP services. Service
// packages register a constructor from init(); the server constructs and
// mounts every core service at startup.
package service

import (
	"log/slog"
	"net/http"
)

// Service is an HTTP surface mounted under Prefix.
type Service interface {
	Handler() http.Handler

	// Prefix is the mount path without leading slash, e.g. "api/guests".
	Prefix() string

	Close() error

	// Unprotected lists paths, relative to Prefix, that bypass the auth gate.
	Unprotected() []string
}

// NewService constructs a service from its [http.services.<name>] table.
type NewService func(conf map[string]any, log *slog.Logger) (Service, error)

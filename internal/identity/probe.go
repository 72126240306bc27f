package identity

import "log/slog"

// Probe reports whether a cloud identity is currently available.
// Implementations must be side-effect free and must not cache.
type Probe interface {
	Available() bool
}

// ProbeFunc adapts a plain function to the Probe interface.
type ProbeFunc func() bool

// Available calls f.
func (f ProbeFunc) Available() bool {
	return f()
}

// FileProbe checks an identity file on every call.
type FileProbe struct {
	path   string
	logger *slog.Logger
}

// NewFileProbe creates a probe over the identity file at path.
func NewFileProbe(path string, logger *slog.Logger) *FileProbe {
	return &FileProbe{path: path, logger: logger}
}

// Available returns true iff the identity file currently holds a token.
// Read or decode failures count as "not available".
func (p *FileProbe) Available() bool {
	id, err := Load(p.path)
	if err != nil {
		p.logger.Warn("identity file unreadable, treating cloud as unavailable",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)

		return false
	}

	if id == nil {
		p.logger.Debug("no cloud identity present", slog.String("path", p.path))
		return false
	}

	if !id.Token.Expiry.IsZero() && !id.Token.Valid() {
		// Expired tokens still prove a signed-in account; refresh is the
		// platform's job.
		p.logger.Debug("cloud identity token expired",
			slog.String("account", id.Account),
			slog.Time("expiry", id.Token.Expiry),
		)
	}

	return true
}

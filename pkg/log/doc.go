/*
Package log provides structured logging for Wharf using zerolog.

A single package-level Logger is configured once at startup by Init and
used everywhere else, either directly for structured events or through
the child-logger helpers that pin a context field.

# Usage

	import "github.com/wharf-registry/wharf/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	log.Logger.Info().
		Str("crate", "serde").
		Str("version", "1.0.0").
		Msg("Crate published")

Child loggers carry a fixed field through a code path:

	pubLog := log.WithCrate(req.Name)
	pubLog.Warn().Err(err).Msg("Compensating delete failed")

	reqLog := log.WithRequestID(id)
	reqLog.Debug().Msg("Streaming sparse entry")

JSONOutput false switches to zerolog's console writer for local
development; production deployments keep JSON so log pipelines can
filter on the structured fields.

# Security

Never log secrets: tokens, password hashes, and the token pepper must
not appear in log output. Handlers log token verification failures
without the token value.
*/
package log

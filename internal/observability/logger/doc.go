// Package logger wraps a process-wide zap logger with request scoping.
//
// Init se llama una vez desde main; los handlers y services obtienen el logger
// del request con From(ctx), que ya trae request_id, method y path:
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("ExchangeCode"))
//	log.Info("user resolved", logger.UserID(u.ID), logger.Provider("google"))
//
// Nunca loguear tokens, codes, verifiers ni secretos. Para correlacionar esos
// valores usar Fingerprint; para emails, MaskEmail.
package logger

// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv for .env files and
// github.com/caarlos0/env/v11 for struct parsing. Every backend package in
// this module declares its own Config struct with `env` tags (PG_*, REDIS_*,
// MONGODB_*, HTTP_*, ...); the binary loads each with Load:
//
//	var pgCfg pg.Config
//	if err := config.Load(&pgCfg); err != nil {
//		return err
//	}
//
// Parsed values are cached per type for the lifetime of the process. Tests
// that change the environment call Reload or ResetCache.
//
// Errors can be matched with errors.Is against ErrParsingConfig,
// ErrInvalidConfigType, ErrNilPointer and ErrLoadingEnvFile.
package config

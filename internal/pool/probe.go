package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/validate"
)

// Probe checks that url is reachable: it connects within the connect timeout
// and runs SELECT 1 within the probe timeout. URLs that are not PostgreSQL are
// accepted without any network I/O.
func (c *Cache) Probe(ctx context.Context, url string) error {
	if err := validate.URL(url); err != nil {
		return err
	}
	if !validate.IsPostgres(url) {
		return nil
	}

	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "Invalid database URL", err)
	}
	cfg.ConnectTimeout = c.limits.ConnectTimeout

	start := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, c.limits.ConnectTimeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(connectCtx, cfg)
	if err != nil {
		return apperr.ConnectionErr("Failed to connect to database", time.Since(start), err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	probeCtx, cancelProbe := context.WithTimeout(ctx, c.limits.ProbeTimeout)
	defer cancelProbe()

	var one int
	if err := conn.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return apperr.ConnectionErr("Connection test query failed", time.Since(start), err)
	}

	c.logger.Debug("connection probe succeeded",
		slog.String("url", validate.MaskURL(url)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

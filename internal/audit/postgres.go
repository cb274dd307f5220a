package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresLog persists audit rows and mirrors them to the structured log.
// Insert failures are reported but swallowed.
type PostgresLog struct {
	db  *pgxpool.Pool
	log *zap.Logger
	zl  *ZapLog
}

func NewPostgresLog(db *pgxpool.Pool, log *zap.Logger) *PostgresLog {
	return &PostgresLog{db: db, log: log, zl: NewZapLog(log)}
}

func (p *PostgresLog) Admission(ctx context.Context, rec AdmissionRecord) {
	p.zl.Admission(ctx, rec)
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx, `insert into audit_admissions(
job_id, converter, client_key, input_key, size_bytes, created_at
) values ($1,$2,$3,$4,$5,$6)`,
		rec.JobID, rec.Converter, rec.ClientKey, rec.InputKey, rec.Size, rec.At,
	)
	if err != nil {
		p.log.Warn("audit admission insert failed", zap.String("jobId", rec.JobID), zap.Error(err))
	}
}

func (p *PostgresLog) Download(ctx context.Context, rec DownloadRecord) {
	p.zl.Download(ctx, rec)
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx, `insert into audit_downloads(
job_id, object_key, client_key, referrer, created_at
) values ($1,$2,$3,$4,$5)`,
		rec.JobID, rec.Key, rec.ClientKey, rec.Referrer, rec.At,
	)
	if err != nil {
		p.log.Warn("audit download insert failed", zap.String("jobId", rec.JobID), zap.Error(err))
	}
}

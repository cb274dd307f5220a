// Package audit records who admitted which job and who fetched which
// artifact. Auditing is best-effort: a sink failure is logged and never
// fails the request that triggered it.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type AdmissionRecord struct {
	JobID     string
	Converter string
	ClientKey string
	InputKey  string
	Size      int64
	At        time.Time
}

type DownloadRecord struct {
	JobID     string
	Key       string
	ClientKey string
	Referrer  string
	At        time.Time
}

type Log interface {
	Admission(ctx context.Context, rec AdmissionRecord)
	Download(ctx context.Context, rec DownloadRecord)
}

// ZapLog writes audit events to the structured log only. Always available;
// the Postgres sink wraps it.
type ZapLog struct{ log *zap.Logger }

func NewZapLog(log *zap.Logger) *ZapLog { return &ZapLog{log: log} }

func (z *ZapLog) Admission(_ context.Context, rec AdmissionRecord) {
	z.log.Info("job admitted",
		zap.String("jobId", rec.JobID),
		zap.String("converter", rec.Converter),
		zap.String("client", rec.ClientKey),
		zap.String("inputKey", rec.InputKey),
		zap.Int64("size", rec.Size))
}

func (z *ZapLog) Download(_ context.Context, rec DownloadRecord) {
	z.log.Info("download authorized",
		zap.String("jobId", rec.JobID),
		zap.String("key", rec.Key),
		zap.String("client", rec.ClientKey),
		zap.String("referrer", rec.Referrer))
}

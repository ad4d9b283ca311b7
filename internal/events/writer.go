package events

import (
	"context"
	"database/sql"
	"time"

	"affiliates/internal/domain"
)

// Writer appends dispatch records to the dispatches table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Record(ctx context.Context, rec domain.DispatchRecord) error {
	if rec.TS == "" {
		if w.Now == nil {
			w.Now = time.Now
		}
		rec.TS = w.Now().UTC().Format(time.RFC3339)
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO dispatches(ts,operation,event_type,order_number,affiliate_id,kind,outcome,status_code,detail) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.TS, rec.Operation, rec.EventType, rec.OrderNumber, rec.AffiliateID, rec.Kind, rec.Outcome, nullableInt(rec.StatusCode), nullable(rec.Detail))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

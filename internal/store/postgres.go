package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"davinci-code/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewPostgres returns a Client backed by the documents table. Conditional
// commits lock the read rows and compare versions inside one database
// transaction, so two racing game transactions resolve exactly the way the
// memory backend resolves them.
func NewPostgres(conn *gorm.DB) *Client {
	return newClient(&postgresBackend{conn: conn})
}

type postgresBackend struct {
	conn *gorm.DB
}

func (p *postgresBackend) snapshot(ctx context.Context, ref Ref) (json.RawMessage, int64, error) {
	var doc db.Document
	err := p.conn.WithContext(ctx).Where("ref = ?", string(ref)).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return json.RawMessage(doc.Payload), doc.Version, nil
}

func (p *postgresBackend) commit(ctx context.Context, reads map[Ref]int64, writes []write) ([]Event, error) {
	now := time.Now().UTC()
	events := make([]Event, 0, len(writes))
	err := p.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for ref, version := range reads {
			var doc db.Document
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("ref = ?", string(ref)).First(&doc).Error
			current := int64(0)
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return err
			default:
				current = doc.Version
			}
			if current != version {
				return ErrConflict
			}
		}
		for _, w := range writes {
			if w.delete {
				if err := tx.Where("ref = ?", string(w.ref)).Delete(&db.Document{}).Error; err != nil {
					return err
				}
				events = append(events, Event{Ref: w.ref, UpdatedAt: now, Deleted: true})
				continue
			}
			record := db.Document{
				Ref:       string(w.ref),
				Payload:   []byte(w.data),
				Version:   1,
				UpdatedAt: now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "ref"}},
				DoUpdates: clause.Assignments(map[string]any{
					"payload":    []byte(w.data),
					"version":    gorm.Expr("documents.version + 1"),
					"updated_at": now,
				}),
			}).Create(&record).Error
			if err != nil {
				return err
			}
			var committed db.Document
			if err := tx.Where("ref = ?", string(w.ref)).First(&committed).Error; err != nil {
				return err
			}
			events = append(events, Event{
				Ref:       w.ref,
				Data:      w.data,
				Version:   committed.Version,
				UpdatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

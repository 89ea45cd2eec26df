package repository

import (
	"database/sql"
	"fmt"

	"github.com/m15x/disparo-backend/internal/model"
)

// ContactFilter narrows the contact set a disparo run iterates.
type ContactFilter struct {
	Tag             string
	SkipAlreadySent bool
}

// ContactRepositoryInterface is the recipient store consumed by the dispatch
// loop: countable, cursor-paginatable, and writable for audit fields.
type ContactRepositoryInterface interface {
	Count(f ContactFilter) (int, error)

	// NextBatch returns up to limit contacts with id strictly greater than
	// afterID, ordered by id. The loop pages with this instead of holding a
	// long-lived scan open.
	NextBatch(f ContactFilter, afterID, limit int) ([]model.Contact, error)

	WriteAudit(contactID int, a model.DisparoAudit) error
}

type ContactRepository struct {
	DB *sql.DB
}

func (f ContactFilter) where(argPos int) (string, []interface{}, int) {
	clause := ""
	args := []interface{}{}
	if f.Tag != "" {
		clause += fmt.Sprintf(" AND tag=$%d", argPos)
		args = append(args, f.Tag)
		argPos++
	}
	if f.SkipAlreadySent {
		clause += " AND last_disparo_at IS NULL"
	}
	return clause, args, argPos
}

func (r *ContactRepository) Count(f ContactFilter) (int, error) {
	clause, args, _ := f.where(1)
	var n int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM contacts WHERE 1=1`+clause, args...).Scan(&n)
	return n, err
}

func (r *ContactRepository) NextBatch(f ContactFilter, afterID, limit int) ([]model.Contact, error) {
	clause, args, argPos := f.where(1)
	query := fmt.Sprintf(`
        SELECT id, phone, name, tag, last_disparo_at, last_disparo_ok,
               last_disparo_error, last_disparo_instance, last_disparo_device,
               last_disparo_message, last_disparo_type, created_at
        FROM contacts
        WHERE 1=1%s AND id > $%d
        ORDER BY id ASC
        LIMIT $%d
    `, clause, argPos, argPos+1)
	args = append(args, afterID, limit)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(
			&c.ID, &c.Phone, &c.Name, &c.Tag,
			&c.LastDisparoAt, &c.LastDisparoOk, &c.LastDisparoError,
			&c.LastDisparoInstance, &c.LastDisparoDevice,
			&c.LastDisparoMessage, &c.LastDisparoType, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) WriteAudit(contactID int, a model.DisparoAudit) error {
	_, err := r.DB.Exec(`
        UPDATE contacts SET
            last_disparo_at=$1, last_disparo_ok=$2, last_disparo_error=$3,
            last_disparo_instance=$4, last_disparo_device=$5,
            last_disparo_message=$6, last_disparo_type=$7
        WHERE id=$8
    `, a.At, a.Ok, a.Error, a.Instance, a.Device, a.Message, a.Type, contactID)
	return err
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)

package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// DBDetail is the driver-level context of a failed statement.
type DBDetail struct {
	SQLState   string `json:"sqlstate,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Dump flattens an error for structured logs. It never reaches API clients.
type Dump struct {
	Message  string    `json:"message"`
	Code     Code      `json:"code,omitempty"`
	Chain    []string  `json:"chain,omitempty"`
	NotFound bool      `json:"not_found,omitempty"`
	DB       *DBDetail `json:"db,omitempty"`
}

func DumpOf(err error) Dump {
	if err == nil {
		return Dump{}
	}
	d := Dump{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}
	d.NotFound = stdErrors.Is(err, gorm.ErrRecordNotFound)
	d.DB = dbDetail(err)
	return d
}

func dbDetail(err error) *DBDetail {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &DBDetail{
			SQLState:   pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return &DBDetail{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

// LogFields renders the dump as flat logger fields, omitting empty values.
func (d Dump) LogFields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if d.NotFound {
		fields["record_not_found"] = true
	}
	if d.DB != nil {
		for k, v := range map[string]string{
			"db_sqlstate":   d.DB.SQLState,
			"db_constraint": d.DB.Constraint,
			"db_table":      d.DB.Table,
			"db_column":     d.DB.Column,
			"db_detail":     d.DB.Detail,
			"db_message":    d.DB.Message,
		} {
			if v != "" {
				fields[k] = v
			}
		}
	}
	return fields
}

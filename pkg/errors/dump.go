package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// constraintHints names the engine invariant behind each schema constraint so
// an operator reading a failure log does not need the migrations open.
var constraintHints = map[string]string{
	"payment_transactions_processing_id_key": "processor payment already recorded",
	"invoices_one_active_per_order":          "order already has an active invoice",
	"invoices_payment_processing_id_key":     "processor payment already bound to another invoice",
	"invoices_invoice_number_key":            "invoice number collision",
	"buy_records_item_id_key":                "unit already sold",
	"orders_status_check":                    "unknown order status",
	"users_balance_non_negative":             "wallet balance would go negative",
}

// ErrorDump is the log-friendly view of a failure chain.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Class      Class  `json:"class,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	Invariant    string `json:"invariant,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
		Code:       CodeOf(err),
		Class:      ClassOf(err),
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	d.Invariant = constraintHints[d.PGConstraint]
	return d
}

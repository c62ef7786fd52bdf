package repository

import (
	"database/sql"
	"strconv"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

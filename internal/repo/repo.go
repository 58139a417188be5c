package repo

import (
	"database/sql"
	"errors"
)

// Repo is the persistent record store. Task and Comment writes are guarded
// by a version counter: an update presenting a stale version is rejected
// with ErrVersionConflict instead of clobbering the newer row.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals that the persisted version advanced after the
// caller read the record. The mutation coordinator retries on it.
var ErrVersionConflict = errors.New("version conflict")

// page clamps paging inputs to sane values.
func page(pageNumber, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageNumber < 0 {
		pageNumber = 0
	}
	return pageSize, pageNumber * pageSize
}

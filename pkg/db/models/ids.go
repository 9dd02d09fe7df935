package models

import "github.com/google/uuid"

// assignID fills a zero primary key before insert. Postgres also defaults the
// column, but sqlite has no gen_random_uuid().
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

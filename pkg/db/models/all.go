package models

// All lists every persisted model in dependency order. Used for sqlite
// AutoMigrate in tests and local runs.
func All() []any {
	return []any{
		&Client{},
		&Warehouse{},
		&Product{},
		&WarehouseStock{},
		&Order{},
		&OrderLine{},
		&Reservation{},
		&OutboxEvent{},
	}
}

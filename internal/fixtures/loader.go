package fixtures

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/warehouse-allocator/pkg/config"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/security"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Summary reports what a load created. IssuedKeys maps client names to API
// keys generated during this load; pinned keys are not repeated.
type Summary struct {
	ClientsCreated    int
	WarehousesCreated int
	ProductsCreated   int
	StockRowsWritten  int
	IssuedKeys        map[string]string
}

type Loader struct {
	db   txRunner
	auth config.AuthConfig
	logg *logger.Logger
}

func NewLoader(db txRunner, auth config.AuthConfig, logg *logger.Logger) (*Loader, error) {
	if db == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Loader{db: db, auth: auth, logg: logg}, nil
}

// Load applies the file in one transaction. Existing clients, warehouses and
// products are matched by name, code and sku and left unchanged. Stock rows
// are set to the fixture quantity unless that would drop below the units
// already reserved.
func (l *Loader) Load(ctx context.Context, file *File) (Summary, error) {
	summary := Summary{IssuedKeys: map[string]string{}}
	if file == nil {
		return summary, fmt.Errorf("fixtures required")
	}
	if err := file.Validate(); err != nil {
		return summary, err
	}

	err := l.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, c := range file.Clients {
			created, key, err := l.ensureClient(ctx, tx, c)
			if err != nil {
				return fmt.Errorf("client %q: %w", c.Name, err)
			}
			if created {
				summary.ClientsCreated++
			}
			if key != "" {
				summary.IssuedKeys[c.Name] = key
			}
		}

		warehouses := make(map[string]models.Warehouse, len(file.Warehouses))
		for _, w := range file.Warehouses {
			row, created, err := ensureWarehouse(ctx, tx, w)
			if err != nil {
				return fmt.Errorf("warehouse %q: %w", w.Code, err)
			}
			if created {
				summary.WarehousesCreated++
			}
			warehouses[w.Code] = row
		}

		products := make(map[string]models.Product, len(file.Products))
		for _, p := range file.Products {
			row, created, err := ensureProduct(ctx, tx, p)
			if err != nil {
				return fmt.Errorf("product %q: %w", p.SKU, err)
			}
			if created {
				summary.ProductsCreated++
			}
			products[p.SKU] = row
		}

		for _, s := range file.Stock {
			if err := setStock(ctx, tx, warehouses[s.Warehouse], products[s.SKU], s.Quantity); err != nil {
				return fmt.Errorf("stock %s/%s: %w", s.Warehouse, s.SKU, err)
			}
			summary.StockRowsWritten++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"clients_created":    summary.ClientsCreated,
		"warehouses_created": summary.WarehousesCreated,
		"products_created":   summary.ProductsCreated,
		"stock_rows":         summary.StockRowsWritten,
	}), "fixtures loaded")
	return summary, nil
}

func (l *Loader) ensureClient(ctx context.Context, tx *gorm.DB, c Client) (bool, string, error) {
	var existing models.Client
	err := tx.WithContext(ctx).Where("name = ?", c.Name).First(&existing).Error
	if err == nil {
		return false, "", nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", err
	}

	var prefix, hash, issued string
	if c.APIKey != "" {
		var secret string
		prefix, secret, err = security.SplitAPIKey(c.APIKey)
		if err != nil {
			return false, "", err
		}
		if hash, err = security.HashSecret(secret, l.auth); err != nil {
			return false, "", err
		}
	} else {
		key, err := security.GenerateAPIKey(l.auth)
		if err != nil {
			return false, "", err
		}
		prefix, hash, issued = key.Prefix, key.Hash, key.Plain
	}

	row := &models.Client{Name: c.Name, APIKeyPrefix: prefix, APIKeyHash: hash, IsAdmin: c.Admin}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return false, "", err
	}
	return true, issued, nil
}

func ensureWarehouse(ctx context.Context, tx *gorm.DB, w Warehouse) (models.Warehouse, bool, error) {
	var row models.Warehouse
	err := tx.WithContext(ctx).Where("code = ?", w.Code).First(&row).Error
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return row, false, err
	}
	name := w.Name
	if name == "" {
		name = w.Code
	}
	row = models.Warehouse{ID: w.ID, Code: w.Code, Name: name}
	if w.Location != "" {
		location := w.Location
		row.Location = &location
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return row, false, err
	}
	return row, true, nil
}

func ensureProduct(ctx context.Context, tx *gorm.DB, p Product) (models.Product, bool, error) {
	var row models.Product
	err := tx.WithContext(ctx).Where("sku = ?", p.SKU).First(&row).Error
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return row, false, err
	}
	name := p.Name
	if name == "" {
		name = p.SKU
	}
	row = models.Product{SKU: p.SKU, Name: name}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return row, false, err
	}
	return row, true, nil
}

func setStock(ctx context.Context, tx *gorm.DB, warehouse models.Warehouse, product models.Product, quantity int) error {
	var row models.WarehouseStock
	err := tx.WithContext(ctx).
		Where("warehouse_id = ? AND product_id = ?", warehouse.ID, product.ID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.WithContext(ctx).Create(&models.WarehouseStock{
			WarehouseID: warehouse.ID,
			ProductID:   product.ID,
			Quantity:    quantity,
		}).Error
	}
	if err != nil {
		return err
	}
	if quantity < row.ReservedQuantity {
		return fmt.Errorf("quantity %d is below the %d units already reserved", quantity, row.ReservedQuantity)
	}
	return tx.WithContext(ctx).
		Model(&models.WarehouseStock{}).
		Where("id = ?", row.ID).
		Update("quantity", quantity).Error
}

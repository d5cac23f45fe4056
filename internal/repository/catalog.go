package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"giftpool/internal/model"
)

var ErrItemNotFound = errors.New("catalog item not found")

// Catalog is the static item price list.
type Catalog struct {
	dbPool *pgxpool.Pool
}

func NewCatalog(db *pgxpool.Pool) *Catalog {
	return &Catalog{dbPool: db}
}

func (c *Catalog) Lookup(ctx context.Context, itemID string) (*model.CatalogItem, error) {
	query := `SELECT id, name, price FROM catalog_items WHERE id = $1`
	var item model.CatalogItem
	err := c.dbPool.QueryRow(ctx, query, itemID).Scan(&item.ID, &item.Name, &item.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for %s: %w", itemID, err)
	}
	return &item, nil
}

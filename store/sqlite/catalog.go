package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/books-engine/core"
)

// =============================================================================
// CUSTOMER STORE
// =============================================================================

// SaveCustomer inserts or updates a customer.
func (s *Store) SaveCustomer(ctx context.Context, c core.Customer) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO customers (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`

	_, err := s.db.ExecContext(ctx, query,
		string(c.ID), c.Name, nullString(c.Email),
		core.FormatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save customer %s: %w", c.ID, err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s *Store) GetCustomer(ctx context.Context, id core.CustomerID) (*core.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c core.Customer
	var email sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM customers WHERE id = ?",
		string(id),
	).Scan(&c.ID, &c.Name, &email, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrCustomerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}

	c.Email = email.String
	c.CreatedAt, _ = time.Parse(core.TimestampLayout, createdAt)
	return &c, nil
}

// ListCustomers returns all customers ordered by name.
func (s *Store) ListCustomers(ctx context.Context) ([]core.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM customers ORDER BY name, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []core.Customer
	for rows.Next() {
		var c core.Customer
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &email, &createdAt); err != nil {
			return nil, err
		}
		c.Email = email.String
		c.CreatedAt, _ = time.Parse(core.TimestampLayout, createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

// SaveProduct inserts or updates a product. Stock is never written here:
// new products start at zero and only inventory movements change it.
func (s *Store) SaveProduct(ctx context.Context, p core.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, name, unit_price, unit_cost, taxable, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit_price = excluded.unit_price,
			unit_cost = excluded.unit_cost,
			taxable = excluded.taxable
	`

	_, err := s.db.ExecContext(ctx, query,
		string(p.ID), p.Name,
		p.UnitPrice.String(), p.UnitCost.String(), p.Taxable,
		core.FormatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save product %s: %w", p.ID, err)
	}
	return nil
}

const productColumns = "id, name, unit_price, unit_cost, taxable, stock_quantity, created_at"

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id core.ProductID) (*core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ?", string(id))
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

// ListProducts returns all products ordered by ID.
func (s *Store) ListProducts(ctx context.Context) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []core.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*core.Product, error) {
	var p core.Product
	var price, cost, stock, createdAt string
	if err := row.Scan(&p.ID, &p.Name, &price, &cost, &p.Taxable, &stock, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if p.UnitPrice, err = core.ParseDecimal(price); err != nil {
		return nil, err
	}
	if p.UnitCost, err = core.ParseDecimal(cost); err != nil {
		return nil, err
	}
	if p.Stock, err = core.ParseDecimal(stock); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(core.TimestampLayout, createdAt)
	return &p, nil
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// Account is a row of the chart of accounts.
type Account struct {
	Code string
	Name string
	Type string
}

// ListAccounts returns the chart of accounts ordered by code.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT code, name, type FROM accounts ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Type); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

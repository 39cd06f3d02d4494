package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

var _ ProxyRepository = (*ProxyRepositoryImpl)(nil)

type ProxyRepositoryImpl struct {
	db *DB
}

func NewProxyRepository(db *DB) *ProxyRepositoryImpl {
	return &ProxyRepositoryImpl{db: db}
}

// SentinelProxyAddress marks a "no usable proxy" placeholder row.
const SentinelProxyAddress = "X"

func (r *ProxyRepositoryImpl) GetFirstProxy() (*WebProxy, error) {
	var p WebProxy
	// created_at only has second resolution, so a discovery batch inserted
	// in one pass ties on it. rowid preserves insertion order exactly.
	err := r.db.QueryRow(`SELECT id, address FROM web_proxies ORDER BY rowid LIMIT 1`).Scan(&p.ID, &p.Address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy: %w", err)
	}
	return &p, nil
}

func (r *ProxyRepositoryImpl) CreateProxy(address string) error {
	_, err := r.db.Exec(`INSERT INTO web_proxies (id, address) VALUES (?, ?)`, uuid.NewString(), address)
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	return nil
}

func (r *ProxyRepositoryImpl) DeleteProxy(id string) error {
	_, err := r.db.Exec(`DELETE FROM web_proxies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete proxy: %w", err)
	}
	return nil
}

func (r *ProxyRepositoryImpl) CountProxies() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM web_proxies`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count proxies: %w", err)
	}
	return count, nil
}

func (r *ProxyRepositoryImpl) DeleteSentinelProxies() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM web_proxies WHERE address = ?`, SentinelProxyAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sentinel proxies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

package postgres

import (
	"context"

	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

const userColumns = `id, username, name, role, COALESCE(supervisor_id, ''), COALESCE(supervisor_category, ''),
	COALESCE(technician_type, ''), COALESCE(phone, ''), COALESCE(whatsapp, ''),
	collection_amount, payment_wallet, paid_to_company, active, password_hash, created_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Role, &u.SupervisorID, &u.SupervisorCategory,
		&u.TechnicianType, &u.Phone, &u.WhatsApp,
		&u.CollectionAmount, &u.PaymentWallet, &u.PaidToCompany, &u.Active, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *tx) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (t *tx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(t.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (t *tx) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(t.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
}

func (t *tx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(t.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) CreateUser(ctx context.Context, user domain.User) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO users (id, username, name, role, supervisor_id, supervisor_category, technician_type,
			phone, whatsapp, collection_amount, payment_wallet, paid_to_company, active, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, user.ID, user.Username, user.Name, string(user.Role), nullIfEmpty(user.SupervisorID),
		nullIfEmpty(string(user.SupervisorCategory)), nullIfEmpty(string(user.TechnicianType)),
		nullIfEmpty(user.Phone), nullIfEmpty(user.WhatsApp),
		user.CollectionAmount, user.PaymentWallet, user.PaidToCompany, user.Active, user.PasswordHash, user.CreatedAt)
	return mapWriteErr(err)
}

func (t *tx) UpdateUserBalances(ctx context.Context, user domain.User) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE users
		SET collection_amount = $2, payment_wallet = $3, paid_to_company = $4
		WHERE id = $1
	`, user.ID, user.CollectionAmount, user.PaymentWallet, user.PaidToCompany)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrNegativeBalance
		}
		return err
	}
	return expectAffected(res)
}

func (t *tx) ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	return t.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1 = '' OR role = $1) AND ($2 = '' OR supervisor_id = $2)
		ORDER BY username
	`, string(filter.Role), filter.SupervisorID)
}

func (t *tx) MapRetailerToFos(ctx context.Context, retailerID string, fosID string) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO retailer_fos (retailer_id, fos_id) VALUES ($1, $2)
		ON CONFLICT (retailer_id, fos_id) DO NOTHING
	`, retailerID, fosID)
	return mapWriteErr(err)
}

func (t *tx) ListFosForRetailer(ctx context.Context, retailerID string) ([]domain.User, error) {
	return t.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id IN (SELECT fos_id FROM retailer_fos WHERE retailer_id = $1)
		ORDER BY username
	`, retailerID)
}

func (t *tx) ListRetailersForFos(ctx context.Context, fosID string) ([]domain.User, error) {
	return t.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id IN (SELECT retailer_id FROM retailer_fos WHERE fos_id = $1)
		ORDER BY username
	`, fosID)
}

func (t *tx) MapFosOperator(ctx context.Context, fosID string, operatorID string) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO fos_operators (fos_id, operator_id) VALUES ($1, $2)
		ON CONFLICT (fos_id, operator_id) DO NOTHING
	`, fosID, operatorID)
	return mapWriteErr(err)
}

func (t *tx) ListOperatorsForFos(ctx context.Context, fosID string) ([]domain.Operator, error) {
	return t.queryOperators(ctx, `
		SELECT o.id, o.name
		FROM operators o
		JOIN fos_operators fo ON fo.operator_id = o.id
		WHERE fo.fos_id = $1
		ORDER BY o.name
	`, fosID)
}

func (t *tx) queryOperators(ctx context.Context, query string, args ...any) ([]domain.Operator, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]domain.Operator, 0, 8)
	for rows.Next() {
		var op domain.Operator
		if err := rows.Scan(&op.ID, &op.Name); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (t *tx) CreateOperator(ctx context.Context, op domain.Operator) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO operators (id, name) VALUES ($1, $2)`, op.ID, op.Name)
	return mapWriteErr(err)
}

func (t *tx) GetOperator(ctx context.Context, id string) (*domain.Operator, error) {
	var op domain.Operator
	if err := t.q.QueryRowContext(ctx, `SELECT id, name FROM operators WHERE id = $1`, id).Scan(&op.ID, &op.Name); err != nil {
		return nil, notFound(err)
	}
	return &op, nil
}

func (t *tx) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	return t.queryOperators(ctx, `SELECT id, name FROM operators ORDER BY name`)
}

func (t *tx) SetOperatorPrice(ctx context.Context, price domain.OperatorPrice) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO operator_prices (operator_id, purchase_price, selling_price, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (operator_id) DO UPDATE
		SET purchase_price = EXCLUDED.purchase_price, selling_price = EXCLUDED.selling_price, updated_at = EXCLUDED.updated_at
	`, price.OperatorID, price.PurchasePrice, price.SellingPrice, price.UpdatedAt)
	return mapWriteErr(err)
}

func (t *tx) GetOperatorPrice(ctx context.Context, operatorID string) (*domain.OperatorPrice, error) {
	var p domain.OperatorPrice
	err := t.q.QueryRowContext(ctx, `
		SELECT operator_id, purchase_price, selling_price, updated_at
		FROM operator_prices
		WHERE operator_id = $1
	`, operatorID).Scan(&p.OperatorID, &p.PurchasePrice, &p.SellingPrice, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

const productColumns = `id, name, COALESCE(operator_id, ''), serialized, meterable, unit_price, created_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.OperatorID, &p.Serialized, &p.Meterable, &p.UnitPrice, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (t *tx) CreateProduct(ctx context.Context, product domain.Product) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO products (id, name, operator_id, serialized, meterable, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, product.ID, product.Name, nullIfEmpty(product.OperatorID), product.Serialized, product.Meterable, product.UnitPrice, product.CreatedAt)
	return mapWriteErr(err)
}

func (t *tx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(t.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (t *tx) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (t *tx) SetPincodeAssignment(ctx context.Context, pincode string, supervisorID string) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO pincode_assignments (pincode, supervisor_id, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (pincode) DO UPDATE SET supervisor_id = EXCLUDED.supervisor_id, updated_at = now()
	`, pincode, supervisorID)
	return mapWriteErr(err)
}

func (t *tx) GetPincodeAssignment(ctx context.Context, pincode string) (string, error) {
	var supervisorID string
	err := t.q.QueryRowContext(ctx, `SELECT supervisor_id FROM pincode_assignments WHERE pincode = $1`, pincode).Scan(&supervisorID)
	if err != nil {
		return "", notFound(err)
	}
	return supervisorID, nil
}

func (t *tx) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

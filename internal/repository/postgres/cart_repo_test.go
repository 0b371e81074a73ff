package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

var (
	cartColNames = []string{"id", "user_id", "session_id", "state", "expires_at", "updated_at"}
	lineColNames = []string{"product_id", "name", "brand", "image", "quantity", "unit_price", "original_price"}
)

func TestCartRepo_ActiveByUser_LoadsLines(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	uid := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, session_id, state, expires_at, updated_at FROM carts WHERE user_id=\$1 AND state='active'`).
		WithArgs(uid).
		WillReturnRows(pgxmock.NewRows(cartColNames).AddRow(int64(3), &uid, nil, "active", nil, now))
	mock.ExpectQuery(`SELECT l.product_id, p.name, p.brand, p.image, l.quantity, l.unit_price, l.original_price FROM cart_lines l JOIN products p`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(lineColNames).
			AddRow(int64(1), "Café", "Tostadero Sur", "", 2, dec("10.00"), nil).
			AddRow(int64(2), "Taza", "", "", 1, dec("5.00"), decPtr("6.50")))

	c, err := r.ActiveByUser(context.Background(), uid)
	require.NoError(t, err)
	require.Equal(t, int64(3), c.ID)
	require.Equal(t, uid, *c.UserID)
	require.Nil(t, c.SessionID)
	require.Equal(t, model.CartActive, c.State)
	require.Len(t, c.Items, 2)
	require.Equal(t, int64(2), c.Items[1].Product.ID)
	require.Nil(t, c.Items[0].OriginalPrice)
	require.True(t, c.Total().Equal(dec("25")))
}

func TestCartRepo_ActiveBySession_NotFound(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	now := time.Now()

	mock.ExpectQuery(`FROM carts WHERE session_id=\$1 AND state='active' AND \(expires_at IS NULL OR expires_at > \$2\)`).
		WithArgs("s-1", now).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.ActiveBySession(context.Background(), "s-1", now)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCartRepo_ActiveBySession_LinesError(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	now := time.Now()
	sid := "s-1"

	mock.ExpectQuery(`FROM carts WHERE session_id=\$1`).
		WithArgs(sid, now).
		WillReturnRows(pgxmock.NewRows(cartColNames).AddRow(int64(9), nil, &sid, "active", &now, now))
	mock.ExpectQuery(`FROM cart_lines l JOIN products p`).
		WithArgs(int64(9)).
		WillReturnError(errors.New("boom"))

	_, err := r.ActiveBySession(context.Background(), sid, now)
	require.EqualError(t, err, "boom")
}

func TestCartRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	sid := "s-new"
	exp := time.Now().Add(time.Hour)
	c := &model.Cart{SessionID: &sid, ExpiresAt: &exp}

	mock.ExpectExec(`UPDATE carts SET state='expired' WHERE session_id=\$1 AND state='active' AND expires_at <= now\(\)`).
		WithArgs(sid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`INSERT INTO carts \(user_id, session_id, expires_at\) VALUES \(\$1, \$2, \$3\) RETURNING id, state, updated_at`).
		WithArgs(c.UserID, c.SessionID, c.ExpiresAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "state", "updated_at"}).AddRow(int64(11), "active", time.Now()))

	require.NoError(t, r.Create(context.Background(), c))
	require.Equal(t, int64(11), c.ID)
	require.Equal(t, model.CartActive, c.State)
	require.NotNil(t, c.Items)
}

func TestCartRepo_Create_Conflict(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	uid := uuid.Must(uuid.NewV4())
	c := &model.Cart{UserID: &uid}

	mock.ExpectQuery(`INSERT INTO carts`).
		WithArgs(c.UserID, c.SessionID, c.ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.ErrorIs(t, r.Create(context.Background(), c), errs.ErrAlreadyExists)
}

func TestCartRepo_Create_DualOwnerRejectedLocally(t *testing.T) {
	db, _ := newDB(t)
	r := NewCartRepo(db)
	uid := uuid.Must(uuid.NewV4())
	sid := "s"

	err := r.Create(context.Background(), &model.Cart{UserID: &uid, SessionID: &sid})
	require.ErrorIs(t, err, model.ErrDualOwner)
}

func TestCartRepo_AddLine(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	p := model.Product{ID: 2, Price: dec("5.00"), OriginalPrice: decPtr("6.50")}

	mock.ExpectExec(`INSERT INTO cart_lines \(cart_id, product_id, quantity, unit_price, original_price\) VALUES \(\$1, \$2, \$3, \$4, \$5\) ON CONFLICT \(cart_id, product_id\) DO UPDATE SET quantity = cart_lines.quantity \+ EXCLUDED.quantity`).
		WithArgs(int64(4), int64(2), 3, p.Price, p.OriginalPrice).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.AddLine(context.Background(), 4, p, 3))
}

func TestCartRepo_SetQuantity_And_Remove(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE cart_lines SET quantity=\$3 WHERE cart_id=\$1 AND product_id=\$2`).
		WithArgs(int64(4), int64(2), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetQuantity(ctx, 4, 2, 5))

	mock.ExpectExec(`UPDATE cart_lines SET quantity=\$3`).
		WithArgs(int64(4), int64(99), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetQuantity(ctx, 4, 99, 5), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM cart_lines WHERE cart_id=\$1 AND product_id=\$2`).
		WithArgs(int64(4), int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.RemoveLine(ctx, 4, 2))

	mock.ExpectExec(`DELETE FROM cart_lines WHERE cart_id=\$1 AND product_id=\$2`).
		WithArgs(int64(4), int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.RemoveLine(ctx, 4, 2), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM cart_lines WHERE cart_id=\$1$`).
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	require.NoError(t, r.Clear(ctx, 4))
}

func TestCartRepo_Touch(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	exp := time.Now().Add(time.Hour)

	mock.ExpectExec(`UPDATE carts SET updated_at=now\(\), expires_at=COALESCE\(\$2, expires_at\) WHERE id=\$1`).
		WithArgs(int64(4), &exp).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Touch(context.Background(), 4, &exp))
}

func TestCartRepo_Merge_OK(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM carts WHERE id=\$1 AND state='active' AND session_id IS NOT NULL FOR UPDATE`).
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectExec(`INSERT INTO cart_lines .* SELECT \$2, product_id, quantity, unit_price, original_price, added_at FROM cart_lines WHERE cart_id=\$1 ON CONFLICT`).
		WithArgs(int64(8), int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DELETE FROM cart_lines WHERE cart_id=\$1`).
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`UPDATE carts SET state='expired', updated_at=now\(\) WHERE id=\$1`).
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE carts SET updated_at=now\(\) WHERE id=\$1`).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, r.Merge(context.Background(), 8, 3))
}

func TestCartRepo_Merge_GuestGone(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM carts WHERE id=\$1 .* FOR UPDATE`).
		WithArgs(int64(8)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	require.ErrorIs(t, r.Merge(context.Background(), 8, 3), errs.ErrNotFound)
}

func TestCartRepo_Merge_FoldErrorRollsBack(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM carts`).
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectExec(`INSERT INTO cart_lines`).
		WithArgs(int64(8), int64(3)).
		WillReturnError(errors.New("fk"))
	mock.ExpectRollback()

	require.EqualError(t, r.Merge(context.Background(), 8, 3), "fk")
}

func TestCartRepo_Merge_BeginError(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)

	mock.ExpectBegin().WillReturnError(errors.New("boom"))
	require.Error(t, r.Merge(context.Background(), 8, 3))
}

func TestCartRepo_ExpireGuests(t *testing.T) {
	db, mock := newDB(t)
	r := NewCartRepo(db)
	now := time.Now()

	mock.ExpectExec(`UPDATE carts SET state='expired' WHERE state='active' AND session_id IS NOT NULL AND expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := r.ExpireGuests(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

package marketdb

import (
	"context"
	"database/sql"

	"github.com/floorline/floornode/internal/db"
	"github.com/floorline/floornode/pkg/marketplace"
)

// FillActivity is the row shape of the fill_activity projection.
type FillActivity struct {
	Context   string `json:"context"`
	OrderID   string `json:"order_id"`
	OrderSide string `json:"order_side"`
	Contract  string `json:"contract"`
	TokenID   string `json:"token_id"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Timestamp uint64 `json:"timestamp"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
}

func (a *FillActivity) ScanRow(scanner db.RowScanner) error {
	return scanner.Scan(
		&a.Context, &a.OrderID, &a.OrderSide, &a.Contract, &a.TokenID,
		&a.Amount, &a.Price, &a.Timestamp, &a.Maker, &a.Taker,
	)
}

type ActivityDb interface {
	StoreFillActivity(ctx context.Context, info marketplace.FillInfo) error
}

func NewActivityDb(sqlDb *sql.DB) ActivityDb {
	return &ActivityDbImpl{db: sqlDb}
}

type ActivityDbImpl struct {
	db *sql.DB
}

const fillActivityBaseQuery = `
	SELECT context, order_id, order_side, contract, token_id,
	       amount, price, timestamp, maker, taker
	FROM fill_activity`

// StoreFillActivity upserts by context: re-delivery of the same projection
// is silently absorbed.
func (a *ActivityDbImpl) StoreFillActivity(ctx context.Context, info marketplace.FillInfo) error {
	_, err := db.TxRunner(ctx, a.db, func(tx *sql.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO fill_activity
				(context, order_id, order_side, contract, token_id,
				 amount, price, timestamp, maker, taker)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			info.Context, info.OrderID, info.OrderSide.String(), info.Contract,
			info.TokenID, info.Amount, info.Price, info.Timestamp,
			info.Maker, info.Taker,
		)
		return struct{}{}, err
	})
	return err
}

// GetFillActivityPage serves the paginated activity feed straight off the
// projection table.
func GetFillActivityPage(
	rq db.QueryRunner,
	queryOptions db.QueryOptions,
	queryParams []interface{},
) (int, []*FillActivity, error) {
	return db.GetPaginatedResponseForQuery(
		"fill_activity",
		rq,
		fillActivityBaseQuery,
		queryOptions,
		[]string{"timestamp", "context"},
		queryParams,
		func() *FillActivity { return &FillActivity{} },
	)
}

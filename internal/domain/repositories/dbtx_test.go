package repositories

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	name string
}

func TestTxContext(t *testing.T) {
	ctx := context.Background()
	if tx := GetTx(ctx); tx != nil {
		t.Fatalf("GetTx(background) = %v, want nil", tx)
	}

	tx := &fakeTx{name: "outer"}
	txCtx := SetTx(ctx, tx)
	got, ok := GetTx(txCtx).(*fakeTx)
	if !ok || got != tx {
		t.Fatalf("GetTx() = %v, want the stored transaction", GetTx(txCtx))
	}
}

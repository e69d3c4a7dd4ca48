package store

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/ethcorego/execution-core/store/errkind"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestHeaderRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	header := &types.Header{Number: big.NewInt(42), GasLimit: 30_000_000}
	hash := header.Hash()

	err := e.Update(func(tx WriteTx) error {
		if err := tx.AddHeader(header); err != nil {
			return err
		}
		return tx.AddCanonical(42, hash)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.View(func(tx ReadTx) error {
		got, err := tx.HeaderByHash(hash)
		if err != nil {
			return err
		}
		if got.Number.Uint64() != 42 {
			t.Fatalf("got number %d", got.Number.Uint64())
		}
		byNum, err := tx.HeaderByNumber(42)
		if err != nil {
			return err
		}
		if byNum.Hash() != hash {
			t.Fatalf("header by number mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMissingHeaderIsNotFound(t *testing.T) {
	e := openTestEngine(t)
	err := e.View(func(tx ReadTx) error {
		_, err := tx.HeaderByHash(common.Hash{0x1})
		if !errors.Is(err, errkind.ErrNotFound) {
			t.Fatalf("expected not-found error, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	e := openTestEngine(t)
	err := e.Update(func(tx WriteTx) error {
		if err := tx.AddCanonical(1, common.Hash{0x9}); err != nil {
			return err
		}
		tx.Rollback()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.View(func(tx ReadTx) error {
		_, err := tx.CanonicalHash(1)
		if err == nil {
			t.Fatal("expected rolled-back write to be absent")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestChainConfigRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	cfg := &params.ChainConfig{ChainID: big.NewInt(7)}
	if err := e.Update(func(tx WriteTx) error { return tx.PutChainConfig(cfg) }); err != nil {
		t.Fatal(err)
	}
	err := e.View(func(tx ReadTx) error {
		got, err := tx.ChainConfig()
		if err != nil {
			return err
		}
		if got.ChainID.Cmp(cfg.ChainID) != 0 {
			t.Fatalf("chain id mismatch: got %v want %v", got.ChainID, cfg.ChainID)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAccountSnapshotRangeReturnsAllEntries(t *testing.T) {
	e := openTestEngine(t)
	hashes := []common.Hash{{0x01}, {0x02}, {0x03}}
	err := e.Update(func(tx WriteTx) error {
		for _, h := range hashes {
			if err := tx.PutAccountSnapshot(h, h.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.View(func(tx ReadTx) error {
		got, err := tx.AccountSnapshotRange(common.Hash{}, 10)
		if err != nil {
			return err
		}
		if len(got) != len(hashes) {
			t.Fatalf("got %d entries, want %d", len(got), len(hashes))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestClearSnapshotEmptiesTables(t *testing.T) {
	e := openTestEngine(t)
	acct := common.Hash{0x42}
	err := e.Update(func(tx WriteTx) error {
		return tx.PutAccountSnapshot(acct, []byte("v"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Update(func(tx WriteTx) error { return tx.ClearSnapshot() }); err != nil {
		t.Fatal(err)
	}
	err = e.View(func(tx ReadTx) error {
		got, err := tx.AccountSnapshotRange(common.Hash{}, 10)
		if err != nil {
			return err
		}
		if len(got) != 0 {
			t.Fatalf("expected empty snapshot after clear, got %d", len(got))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

package aggregator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository is keyed entity storage. Load reports found=false for a missing entity.
type Repository interface {
	Load(ctx context.Context, kind, id string, dst any) (bool, error)
	Save(ctx context.Context, kind, id string, v any) error
	Remove(ctx context.Context, kind, id string) error
}

// Store is a Repository that can apply a group of reads and writes atomically.
// Reads inside fn observe the writes made earlier in fn.
type Store interface {
	Repository
	Atomically(ctx context.Context, fn func(Repository) error) error
}

// PairLookup resolves the pool for an unordered token pair.
type PairLookup interface {
	GetPair(ctx context.Context, tokenA, tokenB string) (string, bool, error)
}

// TokenInfo is ERC20 metadata.
type TokenInfo struct {
	Symbol      string
	Name        string
	Decimals    int64
	TotalSupply decimal.Decimal
}

// TokenMetadata fetches ERC20 metadata for newly seen tokens.
type TokenMetadata interface {
	TokenInfo(ctx context.Context, address string) (TokenInfo, error)
}

// entities is typed access to a Repository. Loaders return nil for missing entities.
type entities struct {
	repo Repository
}

func load[T any](ctx context.Context, repo Repository, kind, id string) (*T, error) {
	var v T
	found, err := repo.Load(ctx, kind, id, &v)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}

func (e entities) save(ctx context.Context, kind, id string, v any) error {
	if err := e.repo.Save(ctx, kind, id, v); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", kind, id, err)
	}
	return nil
}

func (e entities) remove(ctx context.Context, kind, id string) error {
	if err := e.repo.Remove(ctx, kind, id); err != nil {
		return fmt.Errorf("failed to remove %s %s: %w", kind, id, err)
	}
	return nil
}

func (e entities) factory(ctx context.Context, id string) (*Factory, error) {
	return load[Factory](ctx, e.repo, KindFactory, id)
}

func (e entities) bundle(ctx context.Context) (*Bundle, error) {
	return load[Bundle](ctx, e.repo, KindBundle, BundleID)
}

func (e entities) token(ctx context.Context, id string) (*Token, error) {
	return load[Token](ctx, e.repo, KindToken, id)
}

func (e entities) pair(ctx context.Context, id string) (*Pair, error) {
	return load[Pair](ctx, e.repo, KindPair, id)
}

func (e entities) transaction(ctx context.Context, id string) (*Transaction, error) {
	return load[Transaction](ctx, e.repo, KindTransaction, id)
}

func (e entities) mint(ctx context.Context, id string) (*MintEvent, error) {
	return load[MintEvent](ctx, e.repo, KindMint, id)
}

func (e entities) burn(ctx context.Context, id string) (*BurnEvent, error) {
	return load[BurnEvent](ctx, e.repo, KindBurn, id)
}

func (e entities) saveFactory(ctx context.Context, f *Factory) error {
	return e.save(ctx, KindFactory, f.ID, f)
}

func (e entities) saveBundle(ctx context.Context, b *Bundle) error {
	return e.save(ctx, KindBundle, b.ID, b)
}

func (e entities) saveToken(ctx context.Context, t *Token) error {
	return e.save(ctx, KindToken, t.ID, t)
}

func (e entities) savePair(ctx context.Context, p *Pair) error {
	return e.save(ctx, KindPair, p.ID, p)
}

func (e entities) saveTransaction(ctx context.Context, tx *Transaction) error {
	return e.save(ctx, KindTransaction, tx.ID, tx)
}

func (e entities) saveMint(ctx context.Context, m *MintEvent) error {
	return e.save(ctx, KindMint, m.ID, m)
}

func (e entities) saveBurn(ctx context.Context, b *BurnEvent) error {
	return e.save(ctx, KindBurn, b.ID, b)
}

func (e entities) saveSwap(ctx context.Context, s *SwapEvent) error {
	return e.save(ctx, KindSwap, s.ID, s)
}

// pairIndexID orders the two tokens so either argument order yields the same key.
func pairIndexID(tokenA, tokenB string) string {
	a, b := normalizeAddress(tokenA), normalizeAddress(tokenB)
	if a > b {
		a, b = b, a
	}
	return a + "-" + b
}

// StorePairLookup answers GetPair from the PairIndex entities written on pair creation.
type StorePairLookup struct {
	repo Repository
}

func NewStorePairLookup(repo Repository) *StorePairLookup {
	return &StorePairLookup{repo: repo}
}

func (l *StorePairLookup) GetPair(ctx context.Context, tokenA, tokenB string) (string, bool, error) {
	idx, err := load[PairIndex](ctx, l.repo, KindPairIndex, pairIndexID(tokenA, tokenB))
	if err != nil {
		return "", false, err
	}
	if idx == nil {
		return "", false, nil
	}
	return idx.Pair, true, nil
}

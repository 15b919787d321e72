package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// lpTokenDecimals is the fixed precision of every pair's LP token.
const lpTokenDecimals = 18

// minimumLiquidity is the amount locked at the zero address by a pool's first mint.
var minimumLiquidity = big.NewInt(1000)

// transferLeg is a role an LP-token Transfer plays in a logical mint or burn.
// A single transfer can carry more than one leg.
type transferLeg uint8

const (
	// legMint is a transfer out of the zero address.
	legMint transferLeg = 1 << iota
	// legBurnOpen is a transfer of LP tokens into the pair ahead of a burn.
	legBurnOpen
	// legBurnClose is the pair burning LP tokens to the zero address.
	legBurnClose
)

func classifyTransfer(pair, from, to string) transferLeg {
	var legs transferLeg
	if from == ZeroAddress {
		legs |= legMint
	}
	if to == pair {
		legs |= legBurnOpen
	}
	if to == ZeroAddress && from == pair {
		legs |= legBurnClose
	}
	return legs
}

// correlation is the open mint/burn state of one transaction, derived from
// its persisted mint and burn lists.
type correlation struct {
	tx       *Transaction
	lastMint *MintEvent
	lastBurn *BurnEvent
}

func (w *work) loadCorrelation(ctx context.Context, tx *Transaction) (*correlation, error) {
	c := &correlation{tx: tx}
	var err error
	if n := len(tx.Mints); n > 0 {
		if c.lastMint, err = w.entity.mint(ctx, tx.Mints[n-1]); err != nil {
			return nil, err
		}
	}
	if n := len(tx.Burns); n > 0 {
		if c.lastBurn, err = w.entity.burn(ctx, tx.Burns[n-1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// mintPending reports whether the last mint is waiting for its Mint log.
func (c *correlation) mintPending() bool {
	return c.lastMint != nil && !c.lastMint.Complete()
}

// burnAwaitingClose reports whether the last burn has seen only its opening transfer.
func (c *correlation) burnAwaitingClose() bool {
	return c.lastBurn != nil && c.lastBurn.NeedsComplete
}

func (c *correlation) nextID(n int) string {
	return c.tx.ID + "-" + strconv.Itoa(n)
}

// transfer correlates LP-token transfers into logical mints and burns, and
// maintains users and liquidity positions.
func (w *work) transfer(ctx context.Context, ev TransferLog) error {
	from, to := normalizeAddress(ev.From), normalizeAddress(ev.To)

	if to == ZeroAddress && ev.Value != nil && ev.Value.Cmp(minimumLiquidity) == 0 {
		return w.skip(ctx, "Transfer", "minimum liquidity lock", ev.EventMeta)
	}

	pair, err := w.entity.pair(ctx, normalizeAddress(ev.Address))
	if err != nil {
		return err
	}
	if pair == nil {
		return w.skip(ctx, "Transfer", "unknown pair", ev.EventMeta)
	}

	if err := w.ensureUser(ctx, from); err != nil {
		return err
	}
	if err := w.ensureUser(ctx, to); err != nil {
		return err
	}

	value := ConvertTokenToDecimal(ev.Value, lpTokenDecimals)

	tx, err := w.ensureTransaction(ctx, ev.EventMeta)
	if err != nil {
		return err
	}
	c, err := w.loadCorrelation(ctx, tx)
	if err != nil {
		return err
	}

	legs := classifyTransfer(pair.ID, from, to)

	if legs&legMint != 0 {
		if err := w.openMint(ctx, c, pair, to, value); err != nil {
			return err
		}
	}
	if legs&legBurnOpen != 0 {
		if err := w.openBurn(ctx, c, pair, from, to, value); err != nil {
			return err
		}
	}
	if legs&legBurnClose != 0 {
		if err := w.closeBurn(ctx, c, pair, value); err != nil {
			return err
		}
	}

	if from != ZeroAddress && from != pair.ID {
		if err := w.adjustPosition(ctx, pair, from, value.Neg()); err != nil {
			return err
		}
	}
	if to != ZeroAddress && to != pair.ID {
		if err := w.adjustPosition(ctx, pair, to, value); err != nil {
			return err
		}
	}

	return nil
}

// openMint grows the LP supply and opens a pending mint unless one is already pending.
func (w *work) openMint(ctx context.Context, c *correlation, pair *Pair, to string, value decimal.Decimal) error {
	pair.TotalSupply = pair.TotalSupply.Add(value)
	if err := w.entity.savePair(ctx, pair); err != nil {
		return err
	}

	if c.mintPending() {
		return nil
	}

	mint := &MintEvent{
		ID:          c.nextID(len(c.tx.Mints)),
		Transaction: c.tx.ID,
		Timestamp:   c.tx.Timestamp,
		Pair:        pair.ID,
		To:          to,
		Liquidity:   value,
	}
	if err := w.entity.saveMint(ctx, mint); err != nil {
		return err
	}

	c.tx.Mints = append(c.tx.Mints, mint.ID)
	c.lastMint = mint
	return w.entity.saveTransaction(ctx, c.tx)
}

// openBurn records LP tokens sent to the pair as a burn awaiting its closing transfer.
func (w *work) openBurn(ctx context.Context, c *correlation, pair *Pair, from, to string, value decimal.Decimal) error {
	burn := &BurnEvent{
		ID:            c.nextID(len(c.tx.Burns)),
		Transaction:   c.tx.ID,
		Timestamp:     c.tx.Timestamp,
		Pair:          pair.ID,
		Liquidity:     value,
		Sender:        from,
		To:            to,
		NeedsComplete: true,
	}
	if err := w.entity.saveBurn(ctx, burn); err != nil {
		return err
	}

	c.tx.Burns = append(c.tx.Burns, burn.ID)
	c.lastBurn = burn
	return w.entity.saveTransaction(ctx, c.tx)
}

// closeBurn shrinks the LP supply, completes or creates the burn, and folds a
// pending protocol-fee mint into it.
func (w *work) closeBurn(ctx context.Context, c *correlation, pair *Pair, value decimal.Decimal) error {
	pair.TotalSupply = pair.TotalSupply.Sub(value)
	if err := w.entity.savePair(ctx, pair); err != nil {
		return err
	}

	reused := c.burnAwaitingClose()
	burn := c.lastBurn
	if !reused {
		burn = &BurnEvent{
			ID:          c.nextID(len(c.tx.Burns)),
			Transaction: c.tx.ID,
			Timestamp:   c.tx.Timestamp,
			Pair:        pair.ID,
			Liquidity:   value,
		}
	}

	if c.mintPending() {
		fee := c.lastMint
		burn.FeeTo = fee.To
		burn.FeeLiquidity = fee.Liquidity
		if err := w.entity.remove(ctx, KindMint, fee.ID); err != nil {
			return err
		}
		c.tx.Mints = c.tx.Mints[:len(c.tx.Mints)-1]
		c.lastMint = nil
		if err := w.entity.saveTransaction(ctx, c.tx); err != nil {
			return err
		}
	}

	if err := w.entity.saveBurn(ctx, burn); err != nil {
		return err
	}

	if reused {
		c.tx.Burns[len(c.tx.Burns)-1] = burn.ID
	} else {
		c.tx.Burns = append(c.tx.Burns, burn.ID)
	}
	c.lastBurn = burn
	return w.entity.saveTransaction(ctx, c.tx)
}

func (w *work) ensureTransaction(ctx context.Context, meta EventMeta) (*Transaction, error) {
	tx, err := w.entity.transaction(ctx, meta.TxHash)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}
	tx = &Transaction{
		ID:          meta.TxHash,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
		Mints:       []string{},
		Burns:       []string{},
		Swaps:       []string{},
	}
	if err := w.entity.saveTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (w *work) ensureUser(ctx context.Context, address string) error {
	user, err := load[User](ctx, w.entity.repo, KindUser, address)
	if err != nil {
		return err
	}
	if user != nil {
		return nil
	}
	return w.entity.save(ctx, KindUser, address, &User{ID: address})
}

// adjustPosition applies an LP-token balance change to a holder's position.
// The pair's provider count grows when a holder is first seen.
func (w *work) adjustPosition(ctx context.Context, pair *Pair, user string, delta decimal.Decimal) error {
	id := fmt.Sprintf("%s-%s", pair.ID, user)
	position, err := load[LiquidityPosition](ctx, w.entity.repo, KindLiquidityPosition, id)
	if err != nil {
		return err
	}
	if position == nil {
		position = &LiquidityPosition{ID: id, Pair: pair.ID, User: user}
		pair.LiquidityProviderCount++
		if err := w.entity.savePair(ctx, pair); err != nil {
			return err
		}
	}
	position.LiquidityTokenBalance = position.LiquidityTokenBalance.Add(delta)
	return w.entity.save(ctx, KindLiquidityPosition, id, position)
}

package league

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/model"
)

// Initialize creates the global config with signer as admin.
func (s *Service) Initialize(ctx context.Context, signer, treasury string, feeBps uint16) (Receipt, error) {
	key := model.GlobalConfigKey()
	return s.submitBase(ctx, key, executor.Func{
		Label: "initialize",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			if err := validIdentity("admin", signer); err != nil {
				return err
			}
			if err := validIdentity("treasury", treasury); err != nil {
				return err
			}
			if feeBps > model.MaxBps {
				return fmt.Errorf("%w: fee_bps %d", model.ErrInvalidParam, feeBps)
			}
			return tx.Create(ctx, key, model.KindGlobalConfig, signer, model.GlobalConfig{
				Admin:    signer,
				FeeBps:   feeBps,
				Treasury: treasury,
			})
		},
	})
}

// updateConfig applies mutate to the config after an admin check.
func (s *Service) updateConfig(ctx context.Context, name, signer string, mutate func(*model.GlobalConfig) error) (Receipt, error) {
	key := model.GlobalConfigKey()
	return s.submitBase(ctx, key, executor.Func{
		Label: name,
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			cfg, err := requireAdmin(ctx, tx, signer)
			if err != nil {
				return err
			}
			if err := mutate(cfg); err != nil {
				return err
			}
			return tx.Save(ctx, key, cfg)
		},
	})
}

// UpdateAdmin hands the admin role to admin.
func (s *Service) UpdateAdmin(ctx context.Context, signer, admin string) (Receipt, error) {
	return s.updateConfig(ctx, "update_admin", signer, func(cfg *model.GlobalConfig) error {
		if err := validIdentity("admin", admin); err != nil {
			return err
		}
		cfg.Admin = admin
		return nil
	})
}

// UpdateTreasury changes where protocol fees are paid.
func (s *Service) UpdateTreasury(ctx context.Context, signer, treasury string) (Receipt, error) {
	return s.updateConfig(ctx, "update_treasury", signer, func(cfg *model.GlobalConfig) error {
		if err := validIdentity("treasury", treasury); err != nil {
			return err
		}
		cfg.Treasury = treasury
		return nil
	})
}

// UpdateFeeBps changes the protocol fee for leagues created afterwards.
func (s *Service) UpdateFeeBps(ctx context.Context, signer string, feeBps uint16) (Receipt, error) {
	return s.updateConfig(ctx, "update_fee_bps", signer, func(cfg *model.GlobalConfig) error {
		if feeBps > model.MaxBps {
			return fmt.Errorf("%w: fee_bps %d", model.ErrInvalidParam, feeBps)
		}
		cfg.FeeBps = feeBps
		return nil
	})
}

// MarketParams describes a market listing.
type MarketParams struct {
	Symbol      string `json:"symbol"`
	PriceFeed   string `json:"price_feed"`
	Decimals    uint8  `json:"decimals"`
	MaxLeverage uint8  `json:"max_leverage"`
	Enabled     bool   `json:"enabled"` // update only; new markets start enabled
}

// checkMarket validates p against the feed it names.
func (s *Service) checkMarket(ctx context.Context, p MarketParams) error {
	switch {
	case p.Symbol == "" || len(p.Symbol) > model.MaxSymbolLen:
		return fmt.Errorf("%w: symbol %q", model.ErrInvalidParam, p.Symbol)
	case p.MaxLeverage == 0:
		return fmt.Errorf("%w: max_leverage must be positive", model.ErrInvalidParam)
	case p.Decimals > model.MaxMarketDecimals:
		return fmt.Errorf("%w: decimals %d > %d", model.ErrInvalidParam, p.Decimals, model.MaxMarketDecimals)
	}
	exp, err := s.prices.Exponent(ctx, p.PriceFeed)
	if err != nil {
		return fmt.Errorf("%w: feed %s unreadable: %v", model.ErrInvalidParam, p.PriceFeed, err)
	}
	if exp > 0 || exp < -model.MaxOracleExponentSpan {
		return fmt.Errorf("%w: feed %s exponent %d", model.ErrInvalidParam, p.PriceFeed, exp)
	}
	return nil
}

// CreateMarket lists a market for a price feed. Admin only.
func (s *Service) CreateMarket(ctx context.Context, signer string, p MarketParams) (Receipt, error) {
	key := model.MarketKey(p.PriceFeed)
	return s.submitBase(ctx, key, executor.Func{
		Label: "create_market",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			if _, err := requireAdmin(ctx, tx, signer); err != nil {
				return err
			}
			if err := validIdentity("price feed", p.PriceFeed); err != nil {
				return err
			}
			if err := s.checkMarket(ctx, p); err != nil {
				return err
			}
			m := model.Market{
				Symbol:      p.Symbol,
				PriceFeed:   p.PriceFeed,
				Decimals:    p.Decimals,
				Enabled:     true,
				MaxLeverage: p.MaxLeverage,
				ListedBy:    signer,
				CreatedAt:   tx.Now().Unix(),
			}
			if err := tx.Create(ctx, key, model.KindMarket, signer, m); err != nil {
				return err
			}
			slog.Info("market listed", "market", key, "symbol", m.Symbol, "max_leverage", m.MaxLeverage)
			emit(tx, events.MarketListed, "", key, m)
			return nil
		},
	})
}

// UpdateMarket changes a market's parameters. Symbol and feed identify the
// market and cannot change. Disabling a market blocks new opens but never
// closes.
func (s *Service) UpdateMarket(ctx context.Context, signer string, p MarketParams) (Receipt, error) {
	key := model.MarketKey(p.PriceFeed)
	return s.submitBase(ctx, key, executor.Func{
		Label: "update_market",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			if _, err := requireAdmin(ctx, tx, signer); err != nil {
				return err
			}
			m, err := executor.Load[model.Market](ctx, tx, key)
			if err != nil {
				return err
			}
			if p.Symbol != m.Symbol {
				return fmt.Errorf("%w: market %s is %s, symbol cannot change to %q", model.ErrInvalidParam, key, m.Symbol, p.Symbol)
			}
			if err := s.checkMarket(ctx, p); err != nil {
				return err
			}
			m.Decimals = p.Decimals
			m.Enabled = p.Enabled
			m.MaxLeverage = p.MaxLeverage
			if err := tx.Save(ctx, key, m); err != nil {
				return err
			}
			emit(tx, events.MarketUpdated, "", key, m)
			return nil
		},
	})
}

// DeleteMarket removes a market. Positions opened on it keep their feed
// and decimals and can still be closed.
func (s *Service) DeleteMarket(ctx context.Context, signer, feed string) (Receipt, error) {
	key := model.MarketKey(feed)
	return s.submitBase(ctx, key, executor.Func{
		Label: "delete_market",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			if _, err := requireAdmin(ctx, tx, signer); err != nil {
				return err
			}
			return tx.Delete(ctx, key)
		},
	})
}

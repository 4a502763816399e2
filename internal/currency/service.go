package currency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// ConversionScale is the number of decimal places kept on converted amounts.
const ConversionScale = 6

// Rate is the canonical exchange rate: units of Quote per one unit of Base.
type Rate struct {
	Base      enums.Currency  `json:"base"`
	Quote     enums.Currency  `json:"quote"`
	Value     decimal.Decimal `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Conversion is an amount expressed in base currency plus the rate that produced it.
type Conversion struct {
	From     enums.Currency  `json:"from"`
	Amount   decimal.Decimal `json:"amount"`
	RateUsed decimal.Decimal `json:"rate_used"`
	At       time.Time       `json:"at"`
}

// Authority is the single source of exchange rates.
type Authority interface {
	BaseCurrency() enums.Currency
	GetRate(ctx context.Context) (Rate, error)
	Convert(ctx context.Context, amount decimal.Decimal, from enums.Currency) (Conversion, error)
}

// ServiceParams wires the conversion authority.
type ServiceParams struct {
	Settings settings.Getter
	Base     string
	Quote    string
	CacheTTL time.Duration
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service reads the canonical rate from settings through a RateCache.
type Service struct {
	settings settings.Getter
	base     enums.Currency
	quote    enums.Currency
	cache    *RateCache
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the conversion authority.
func NewService(params ServiceParams) (*Service, error) {
	if params.Settings == nil {
		return nil, fmt.Errorf("settings getter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	base, err := enums.ParseCurrency(params.Base)
	if err != nil {
		return nil, fmt.Errorf("base currency: %w", err)
	}
	quote, err := enums.ParseCurrency(params.Quote)
	if err != nil {
		return nil, fmt.Errorf("quote currency: %w", err)
	}
	if base == quote {
		return nil, fmt.Errorf("base and quote currency must differ")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		settings: params.Settings,
		base:     base,
		quote:    quote,
		cache:    NewRateCache(params.CacheTTL, now),
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *Service) BaseCurrency() enums.Currency { return s.base }

func (s *Service) GetRate(ctx context.Context) (Rate, error) {
	if rate, ok := s.cache.Get(); ok {
		return rate, nil
	}

	raw, err := s.settings.Get(ctx, settings.KeyExchangeRate, settings.CategoryFinance)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return Rate{}, s.missing("exchange rate is not configured")
		}
		return Rate{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load exchange rate")
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Rate{}, s.missing("exchange rate is not a decimal")
	}
	if !value.IsPositive() {
		return Rate{}, s.missing("exchange rate must be positive")
	}

	rate := Rate{Base: s.base, Quote: s.quote, Value: value, FetchedAt: s.now().UTC()}
	s.cache.Put(rate)
	return rate, nil
}

func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from enums.Currency) (Conversion, error) {
	switch from {
	case s.base:
		return Conversion{From: from, Amount: amount, RateUsed: decimal.NewFromInt(1), At: s.now().UTC()}, nil
	case s.quote:
		rate, err := s.GetRate(ctx)
		if err != nil {
			return Conversion{}, err
		}
		return Conversion{
			From:     from,
			Amount:   amount.DivRound(rate.Value, ConversionScale),
			RateUsed: rate.Value,
			At:       rate.FetchedAt,
		}, nil
	}
	return Conversion{}, pkgerrors.New(pkgerrors.CodeConfigurationMissing, "no exchange rate for currency").
		WithDetails(map[string]any{"currency": from, "supported": []enums.Currency{s.base, s.quote}})
}

// OnSettingChanged drops the cached rate when the rate setting is written.
func (s *Service) OnSettingChanged(ctx context.Context, key, category string) {
	if key != settings.KeyExchangeRate || category != settings.CategoryFinance {
		return
	}
	s.cache.Invalidate()
	s.logg.Info(ctx, "exchange rate cache invalidated")
}

func (s *Service) missing(reason string) error {
	return pkgerrors.New(pkgerrors.CodeConfigurationMissing, reason).
		WithDetails(map[string]any{"setting": settings.KeyExchangeRate, "category": settings.CategoryFinance})
}

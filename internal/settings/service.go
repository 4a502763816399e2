package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// Well-known finance settings.
const (
	CategoryFinance           = "finance"
	KeyExchangeRate           = "exchange_rate"
	KeyPreventNegativeBalance = "prevent_negative_balance"
	KeyLowBalanceThreshold    = "low_balance_threshold"
)

// Getter reads one setting value.
type Getter interface {
	Get(ctx context.Context, key, category string) (string, error)
}

// ChangeHook runs after a committed write.
type ChangeHook func(ctx context.Context, key, category string)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SetInput describes an operator write.
type SetInput struct {
	Key       string
	Category  string
	Value     string
	ActorID   string
	ActorRole string
}

// ServiceParams wires the settings service.
type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Audit      audit.Recorder
	Logger     *logger.Logger
}

// Service reads and writes operator settings.
type Service struct {
	repo  Repository
	tx    txRunner
	audit audit.Recorder
	logg  *logger.Logger

	mu    sync.RWMutex
	hooks []ChangeHook
}

// NewService builds the settings service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("settings repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:  params.Repository,
		tx:    params.DB,
		audit: params.Audit,
		logg:  params.Logger,
	}, nil
}

// OnChange registers a hook called after every committed write.
func (s *Service) OnChange(hook ChangeHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Service) Get(ctx context.Context, key, category string) (string, error) {
	setting, err := s.repo.Find(ctx, key, category)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "setting not found").
				WithDetails(map[string]any{"key": key, "category": category})
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load setting")
	}
	return setting.Value, nil
}

func (s *Service) List(ctx context.Context, category string) ([]models.Setting, error) {
	rows, err := s.repo.ListByCategory(ctx, category)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settings")
	}
	return rows, nil
}

func (s *Service) Set(ctx context.Context, input SetInput) (*models.Setting, error) {
	key := strings.TrimSpace(input.Key)
	category := strings.TrimSpace(input.Category)
	if key == "" || category == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "setting key and category required")
	}
	if strings.TrimSpace(input.ActorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var (
		saved   *models.Setting
		failure *audit.Failure
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var before *models.Setting
		existing, err := repo.Find(ctx, key, category)
		switch {
		case err == nil:
			before = existing
		case !dbpkg.IsNotFound(err):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load setting")
		}

		actor := input.ActorID
		row := &models.Setting{Key: key, Category: category, Value: input.Value, UpdatedBy: &actor}
		if err := repo.Upsert(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save setting")
		}
		saved = row

		failure = s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:     enums.AuditSettingUpdated,
			EntityType: "setting",
			EntityID:   category + "/" + key,
			ActorID:    input.ActorID,
			ActorRole:  input.ActorRole,
			Before:     before,
			After:      row,
			Context:    audit.SettingsBusiness(audit.SettingsContext{Key: key, Category: category}),
			RiskLevel:  riskFor(key),
		})
		return nil
	})
	s.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	hooks := append([]ChangeHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, key, category)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"setting_key": key, "setting_category": category})
	s.logg.Info(logCtx, "setting updated")
	return saved, nil
}

func riskFor(key string) enums.RiskLevel {
	switch key {
	case KeyExchangeRate, KeyPreventNegativeBalance:
		return enums.RiskHigh
	}
	return enums.RiskMedium
}

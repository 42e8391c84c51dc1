package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/archive"
	"channelhub/backend/internal/assignment"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/logging"
	"channelhub/backend/internal/notify"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carries the tunables of a Service. RootAdminUsername names the admin at the top of the
// hierarchy; OTPTTL of zero keeps closing OTPs valid until overwritten.
type Options struct {
	RootAdminUsername string
	OTPTTL            time.Duration
	Now               func() time.Time
}

type Service struct {
	repo              store.Repository
	resolver          *assignment.Resolver
	notifier          notify.Gateway
	archiver          archive.Archiver
	logger            *zap.Logger
	rootAdminUsername string
	otpTTL            time.Duration
	now               func() time.Time
}

func New(
	repo store.Repository,
	resolver *assignment.Resolver,
	notifier notify.Gateway,
	archiver archive.Archiver,
	logger *zap.Logger,
	opts Options,
) *Service {
	logger = logging.Or(logger).Named("service")
	if resolver == nil {
		resolver = assignment.NewResolver(repo, nil, 0, logger)
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if archiver == nil {
		archiver = archive.Noop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:              repo,
		resolver:          resolver,
		notifier:          notifier,
		archiver:          archiver,
		logger:            logger,
		rootAdminUsername: strings.TrimSpace(opts.RootAdminUsername),
		otpTTL:            opts.OTPTTL,
		now:               func() time.Time { return now().UTC() },
	}
}

func (s *Service) dir(tx store.Tx) directory {
	return directory{tx: tx, rootAdminUsername: s.rootAdminUsername}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, apperr.New(apperr.Unauthorized, "", "authenticated user required")
	}
	return actor, nil
}

func requireRole(actor domain.Actor, roles ...domain.Role) error {
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return apperr.New(apperr.Unauthorized, actor.Username, "role %s may not perform this action", actor.Role)
}

// loadActor reads the acting user inside tx. Deactivated users are refused.
func loadActor(ctx context.Context, tx store.Tx, actor domain.Actor) (*domain.User, error) {
	user, err := tx.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, notFound(err, "user", actor.UserID)
	}
	if !user.Active {
		return nil, apperr.New(apperr.Unauthorized, user.ID, "user %s is inactive", user.Username)
	}
	return user, nil
}

func loadUser(ctx context.Context, tx store.Tx, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.New(apperr.InvalidInput, "user", "user id is required")
	}
	user, err := tx.GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return user, nil
}

func loadProduct(ctx context.Context, tx store.Tx, id string) (*domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.New(apperr.InvalidInput, "product", "product id is required")
	}
	product, err := tx.GetProduct(ctx, id)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return product, nil
}

// notFound turns a store miss into a NotFound naming the entity; other errors pass through.
func notFound(err error, entity string, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, id, "%s %s not found", entity, id)
	}
	return err
}

func requirePositive(amount decimal.Decimal, subject string) error {
	if !amount.IsPositive() {
		return apperr.New(apperr.InvalidAmount, subject, "%s must be greater than zero", subject)
	}
	return nil
}

// validateQty rejects non-positive quantities and fractions of products that are not meterable.
func validateQty(product *domain.Product, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return apperr.New(apperr.InvalidAmount, product.ID, "quantity of %s must be greater than zero", product.Name)
	}
	if !product.Meterable && !qty.IsInteger() {
		return apperr.New(apperr.InvalidAmount, product.ID, "%s is counted in whole units, got %s", product.Name, qty)
	}
	return nil
}

// logAudit records an operation after it committed. Failures are logged and dropped.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	name := "system"
	if ok && actor.Username != "" {
		name = actor.Username
	}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateAuditLog(ctx, domain.AuditLog{
			ID:         xid.New("audit"),
			Actor:      name,
			Action:     action,
			EntityType: entityType,
			EntityID:   entityID,
			Detail:     detail,
			CreatedAt:  s.now(),
		})
	})
	if err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", fmt.Sprintf("%s/%s", entityType, entityID)),
			zap.Error(err))
	}
}

// notifyUser sends a message outside any transaction. Delivery problems never fail the caller.
func (s *Service) notifyUser(ctx context.Context, phone string, message string) notify.Receipt {
	if strings.TrimSpace(phone) == "" {
		s.logger.Warn("notification skipped, no phone number", zap.String("message", message))
		return notify.Receipt{}
	}
	receipt, err := s.notifier.Send(ctx, phone, message)
	if err != nil {
		s.logger.Warn("notification delivery failed", zap.String("phone", phone), zap.Error(err))
	}
	return receipt
}

func contactPhone(user *domain.User) string {
	if user.WhatsApp != "" {
		return user.WhatsApp
	}
	return user.Phone
}

func (s *Service) Me(ctx context.Context) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	var user *domain.User
	err = s.repo.View(ctx, func(tx store.Tx) error {
		user, err = loadActor(ctx, tx, actor)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

// FindLoginUser returns the account behind username for credential checks.
func (s *Service) FindLoginUser(ctx context.Context, username string) (*domain.User, error) {
	var user *domain.User
	err := s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.GetUserByUsername(ctx, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

package referrals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	pkgErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxDepth bounds every lineage walk, so a cycle in the referral graph cannot cause unbounded work.
const MaxDepth = 3

var (
	ErrSelfReferral = errors.New("a wallet cannot refer itself")
	ErrCycle        = errors.New("referral would create a cycle")
)

type Referral struct {
	Referrer  string
	Referral  string
	CreatedAt time.Time
}

func (Referral) TableName() string {
	return "referral"
}

// Lineage is a wallet's referrer chain. Level2 is only set when Level1 is, and so on.
type Lineage struct {
	Level1 *string
	Level2 *string
	Level3 *string
}

// At returns the referrer at level 1..3.
func (l *Lineage) At(level int) *string {
	switch level {
	case 1:
		return l.Level1
	case 2:
		return l.Level2
	case 3:
		return l.Level3
	}
	return nil
}

// Depth is the number of referrers present.
func (l *Lineage) Depth() int {
	depth := 0
	for level := 1; level <= MaxDepth; level++ {
		if l.At(level) == nil {
			break
		}
		depth++
	}
	return depth
}

func (l *Lineage) set(level int, address string) {
	switch level {
	case 1:
		l.Level1 = &address
	case 2:
		l.Level2 = &address
	case 3:
		l.Level3 = &address
	}
}

type Resolver struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewResolver(db *gorm.DB, l *zap.Logger) *Resolver {
	return &Resolver{
		db:     db,
		logger: l,
	}
}

// GetReferrer returns the direct referrer of address.
func (r *Resolver) GetReferrer(ctx context.Context, address string) (string, bool, error) {
	var edge Referral
	res := r.db.WithContext(ctx).
		Where("referral = ?", strings.ToLower(address)).
		Limit(1).
		Find(&edge)
	if res.Error != nil {
		return "", false, pkgErrors.Wrap(res.Error, "failed to look up referrer")
	}
	if res.RowsAffected == 0 {
		return "", false, nil
	}
	return edge.Referrer, true, nil
}

// ResolveLineage walks up to MaxDepth referrers, each lookup keyed on the previous level's referrer,
// and stops at the first wallet without one.
func (r *Resolver) ResolveLineage(ctx context.Context, address string) (*Lineage, error) {
	lineage := &Lineage{}
	current := strings.ToLower(address)
	for level := 1; level <= MaxDepth; level++ {
		referrer, ok, err := r.GetReferrer(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		lineage.set(level, referrer)
		current = referrer
	}
	return lineage, nil
}

// LinkReferral records that referrer brought in referral. An existing edge for referral is kept
// and reported as inserted=false.
func (r *Resolver) LinkReferral(ctx context.Context, referrer string, referral string) (bool, error) {
	if !common.IsHexAddress(referrer) || !common.IsHexAddress(referral) {
		return false, pkgErrors.New("referrer and referral must be valid addresses")
	}
	referrer = strings.ToLower(referrer)
	referral = strings.ToLower(referral)
	if referrer == referral {
		return false, ErrSelfReferral
	}

	lineage, err := r.ResolveLineage(ctx, referrer)
	if err != nil {
		return false, err
	}
	for level := 1; level <= lineage.Depth(); level++ {
		if *lineage.At(level) == referral {
			return false, ErrCycle
		}
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Referral{Referrer: referrer, Referral: referral})
	if res.Error != nil {
		return false, pkgErrors.Wrap(res.Error, "failed to insert referral")
	}
	if res.RowsAffected == 0 {
		r.logger.Sugar().Infow("Referral already linked", zap.String("referral", referral))
		return false, nil
	}
	r.logger.Sugar().Infow("Linked referral",
		zap.String("referrer", referrer),
		zap.String("referral", referral),
	)
	return true, nil
}

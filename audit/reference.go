package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sgic-platform/sgic-audit/audit/metrics"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const referencePrefix = "SGIC-AUD"

// roleCodes are matched in order against the lowercased, accent-free role.
var roleCodes = []struct {
	keywords []string
	code     string
}{
	{[]string{"admin"}, "ADM"},
	{[]string{"enqueteur", "investigat"}, "ENQ"},
	{[]string{"analyst"}, "ANL"},
	{[]string{"technicien", "technician"}, "TEC"},
	{[]string{"observ"}, "OBS"},
}

// RoleCode maps a role label to its three-letter code. Unknown roles map to
// USR.
func RoleCode(role string) string {
	r := strings.ToLower(stripAccents(role))
	for _, rc := range roleCodes {
		for _, k := range rc.keywords {
			if strings.Contains(r, k) {
				return rc.code
			}
		}
	}
	return "USR"
}

// SurnameCode uppercases a surname, strips accents and replaces anything
// outside [A-Z0-9] with an underscore. An empty surname becomes SYSTEME.
func SurnameCode(surname string) string {
	s := strings.ToUpper(strings.TrimSpace(stripAccents(surname)))
	if s == "" {
		return "SYSTEME"
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// FormatReference builds SGIC-AUD/YYYY/MM/DD/ROLE-SURNAME/NNNNNN.
func FormatReference(at time.Time, roleCode, surnameCode string, seq int) string {
	return fmt.Sprintf("%s/%s/%s-%s/%06d", referencePrefix, at.Format("2006/01/02"), roleCode, surnameCode, seq)
}

// fallbackReference labels an entry whose sequence could not be obtained.
func fallbackReference(at time.Time) (string, int) {
	return FormatReference(at, "USR", "SYSTEME", 1), 1
}

func sequenceKey(at time.Time) string {
	return "audit:seq:" + at.Format("20060102")
}

// GenerateReference returns the reference and day sequence for an entry by
// actor at the given time. It never fails: on any error the sequence is 1
// and the reference is the generic USR-SYSTEME one.
func (s *Service) GenerateReference(ctx context.Context, actor *Actor, at time.Time) (ref string, seq int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audit reference panicked", zap.Any("recover", r))
			metrics.CaptureFailed(metrics.StageReference)
			ref, seq = fallbackReference(at)
		}
	}()

	n, err := s.nextSequence(ctx, at)
	if err != nil {
		s.logger.Warn("audit reference sequence unavailable", zap.Error(err))
		metrics.CaptureFailed(metrics.StageReference)
		return fallbackReference(at)
	}
	role, surname := "", ""
	if actor != nil {
		role, surname = actor.Role, actor.LastName
	}
	return FormatReference(at, RoleCode(role), SurnameCode(surname), n), n
}

// nextSequence increments the day's counter in the cache, seeding it from
// the table the first time it is touched that day. Without a usable cache it
// falls back to MAX(day_sequence)+1.
func (s *Service) nextSequence(ctx context.Context, at time.Time) (int, error) {
	if s.cache != nil {
		n, err := s.incrSequence(ctx, at)
		if err == nil {
			return n, nil
		}
		s.logger.Warn("audit sequence counter failed, using table max", zap.Error(err))
	}
	max, err := s.maxSequence(ctx, at)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (s *Service) incrSequence(ctx context.Context, at time.Time) (int, error) {
	key := sequenceKey(at)
	const ttl = 48 * time.Hour
	exists, err := s.cache.Exists(ctx, key)
	if err != nil {
		return 0, err
	}
	if !exists {
		max, err := s.maxSequence(ctx, at)
		if err != nil {
			return 0, err
		}
		// a concurrent seeder may win; either value is the same max
		if _, err := s.cache.SetNX(ctx, key, strconv.Itoa(max), ttl); err != nil {
			return 0, err
		}
	}
	n, err := s.cache.Incr(ctx, key, ttl)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Service) maxSequence(ctx context.Context, at time.Time) (int, error) {
	start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	var max sql.NullInt64
	err := s.db.WithContext(ctx).Model(&model.EventLog{}).
		Where("created_at >= ? AND created_at < ?", start, start.AddDate(0, 0, 1)).
		Select("MAX(day_sequence)").Row().Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("audit: max day sequence: %w", err)
	}
	return int(max.Int64), nil
}

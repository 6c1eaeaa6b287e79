package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/model"
	"gorm.io/gorm"
)

var caseKind = kind[model.Case]{
	tag:     audit.ResourceCase,
	preload: []string{"Suspects", "Pieces"},
	id:      func(c *model.Case) int64 { return c.ID },
}

// CaseStore persists investigation files.
type CaseStore struct{ s *Store }

// CaseFilter narrows a case listing.
type CaseFilter struct {
	Query  string
	Statut string
	Page
}

// List returns matching cases, newest first, with the total count.
func (cs *CaseStore) List(ctx context.Context, f CaseFilter) ([]model.Case, int64, error) {
	q := cs.s.db.WithContext(ctx).Model(&model.Case{})
	if t := strings.TrimSpace(f.Query); t != "" {
		q = q.Where("numero LIKE ? OR titre LIKE ? OR lieu LIKE ?", like(t), like(t), like(t))
	}
	if f.Statut != "" {
		q = q.Where("statut = ?", f.Statut)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	var out []model.Case
	if err := f.Page.apply(q).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	return out, total, nil
}

// Get returns the case with its suspects and pieces.
func (cs *CaseStore) Get(ctx context.Context, id int64) (*model.Case, error) {
	return caseKind.load(cs.s.db.WithContext(ctx), id)
}

// Create inserts c and links the suspects with the given ids.
func (cs *CaseStore) Create(ctx context.Context, c *model.Case, suspectIDs ...int64) error {
	if c.Statut == "" {
		c.Statut = model.CaseStatusOpen
	}
	c.Suspects = nil
	if ids := uniq(suspectIDs); len(ids) > 0 {
		if err := cs.s.db.WithContext(ctx).Where("id IN ?", ids).Find(&c.Suspects).Error; err != nil {
			return fmt.Errorf("find suspects: %w", err)
		}
		if len(c.Suspects) != len(ids) {
			return ErrNotFound
		}
	}
	return caseKind.create(ctx, cs.s, model.ActionCreate, c)
}

// CasePatch holds the editable case fields; nil fields are left unchanged.
type CasePatch struct {
	Titre              *string `json:"titre"`
	Description        *string `json:"description"`
	Statut             *string `json:"statut"`
	Priorite           *string `json:"priorite"`
	Lieu               *string `json:"lieu"`
	LeadInvestigatorID *int64  `json:"lead_investigator_id"`
	SuspectIDs         []int64 `json:"suspect_ids"`
}

func (p CasePatch) columns() map[string]interface{} {
	out := make(map[string]interface{})
	set := func(col string, v *string) {
		if v != nil {
			out[col] = *v
		}
	}
	set("titre", p.Titre)
	set("description", p.Description)
	set("statut", p.Statut)
	set("priorite", p.Priorite)
	set("lieu", p.Lieu)
	if p.LeadInvestigatorID != nil {
		out["lead_investigator_id"] = *p.LeadInvestigatorID
	}
	return out
}

// Update applies p to the case. A non-nil SuspectIDs replaces the linked
// suspects.
func (cs *CaseStore) Update(ctx context.Context, id int64, p CasePatch) (*model.Case, error) {
	return caseKind.update(ctx, cs.s, id, model.ActionUpdate, func(tx *gorm.DB, cur *model.Case) error {
		if cols := p.columns(); len(cols) > 0 {
			if err := tx.Model(cur).Updates(cols).Error; err != nil {
				return err
			}
		}
		if p.SuspectIDs == nil {
			return nil
		}
		suspects := make([]model.Suspect, 0, len(p.SuspectIDs))
		if len(p.SuspectIDs) > 0 {
			if err := tx.Where("id IN ?", p.SuspectIDs).Find(&suspects).Error; err != nil {
				return err
			}
			if len(suspects) != len(uniq(p.SuspectIDs)) {
				return ErrNotFound
			}
		}
		return tx.Model(cur).Association("Suspects").Replace(suspects)
	})
}

// Delete removes the case, its suspect links and its piece rows. The
// returned case still lists the pieces so their files can be removed.
func (cs *CaseStore) Delete(ctx context.Context, id int64) (*model.Case, error) {
	return caseKind.delete(ctx, cs.s, id, func(tx *gorm.DB, cur *model.Case) error {
		if err := tx.Model(cur).Association("Suspects").Clear(); err != nil {
			return err
		}
		return tx.Where("case_id = ?", cur.ID).Delete(&model.Piece{}).Error
	})
}

// Label names a case for audit descriptions.
func (cs *CaseStore) Label(ctx context.Context, id int64) (string, error) {
	var c model.Case
	if err := cs.s.db.WithContext(ctx).Select("id", "numero", "titre").First(&c, id).Error; err != nil {
		return "", err
	}
	if c.Titre == "" {
		return "le dossier " + c.Numero, nil
	}
	return fmt.Sprintf("le dossier %s « %s »", c.Numero, c.Titre), nil
}

func uniq(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

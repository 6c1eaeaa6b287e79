package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/model"
	"gorm.io/gorm"
)

var suspectKind = kind[model.Suspect]{
	tag: audit.ResourceSuspect,
	id:  func(s *model.Suspect) int64 { return s.ID },
}

// SuspectStore persists suspects.
type SuspectStore struct{ s *Store }

// List returns suspects whose name matches query, by name.
func (ss *SuspectStore) List(ctx context.Context, query string, p Page) ([]model.Suspect, int64, error) {
	q := ss.s.db.WithContext(ctx).Model(&model.Suspect{})
	if t := strings.TrimSpace(query); t != "" {
		q = q.Where("nom LIKE ? OR prenom LIKE ?", like(t), like(t))
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count suspects: %w", err)
	}
	var out []model.Suspect
	if err := p.apply(q).Order("nom, prenom, id").Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list suspects: %w", err)
	}
	return out, total, nil
}

// Get returns one suspect.
func (ss *SuspectStore) Get(ctx context.Context, id int64) (*model.Suspect, error) {
	return suspectKind.load(ss.s.db.WithContext(ctx), id)
}

// Create inserts a suspect.
func (ss *SuspectStore) Create(ctx context.Context, s *model.Suspect) error {
	return suspectKind.create(ctx, ss.s, model.ActionCreate, s)
}

// SuspectPatch holds the editable suspect fields; nil fields are unchanged.
type SuspectPatch struct {
	Nom           *string    `json:"nom"`
	Prenom        *string    `json:"prenom"`
	DateNaissance *time.Time `json:"date_naissance"`
	Nationalite   *string    `json:"nationalite"`
	Adresse       *string    `json:"adresse"`
	Telephone     *string    `json:"telephone"`
	Statut        *string    `json:"statut"`
	Notes         *string    `json:"notes"`
}

func (p SuspectPatch) columns() map[string]interface{} {
	out := make(map[string]interface{})
	for col, v := range map[string]*string{
		"nom": p.Nom, "prenom": p.Prenom, "nationalite": p.Nationalite,
		"adresse": p.Adresse, "telephone": p.Telephone, "statut": p.Statut, "notes": p.Notes,
	} {
		if v != nil {
			out[col] = *v
		}
	}
	if p.DateNaissance != nil {
		out["date_naissance"] = *p.DateNaissance
	}
	return out
}

// Update applies p to the suspect.
func (ss *SuspectStore) Update(ctx context.Context, id int64, p SuspectPatch) (*model.Suspect, error) {
	return suspectKind.update(ctx, ss.s, id, model.ActionUpdate, func(tx *gorm.DB, cur *model.Suspect) error {
		cols := p.columns()
		if len(cols) == 0 {
			return nil
		}
		return tx.Model(cur).Updates(cols).Error
	})
}

// Delete removes the suspect and its case links.
func (ss *SuspectStore) Delete(ctx context.Context, id int64) (*model.Suspect, error) {
	return suspectKind.delete(ctx, ss.s, id, func(tx *gorm.DB, cur *model.Suspect) error {
		return tx.Exec("DELETE FROM case_suspects WHERE suspect_id = ?", cur.ID).Error
	})
}

// Label names a suspect for audit descriptions.
func (ss *SuspectStore) Label(ctx context.Context, id int64) (string, error) {
	var s model.Suspect
	if err := ss.s.db.WithContext(ctx).Select("id", "nom", "prenom").First(&s, id).Error; err != nil {
		return "", err
	}
	return "le suspect " + strings.TrimSpace(s.Prenom+" "+strings.ToUpper(s.Nom)), nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/model"
)

var pieceKind = kind[model.Piece]{
	tag: audit.ResourcePiece,
	id:  func(p *model.Piece) int64 { return p.ID },
}

// PieceStore persists evidence attachments. Files themselves live on disk
// and are handled by the caller.
type PieceStore struct{ s *Store }

// ListByCase returns the pieces of a case, oldest first.
func (ps *PieceStore) ListByCase(ctx context.Context, caseID int64) ([]model.Piece, error) {
	var out []model.Piece
	if err := ps.s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list pieces: %w", err)
	}
	return out, nil
}

// Get returns one piece.
func (ps *PieceStore) Get(ctx context.Context, id int64) (*model.Piece, error) {
	return pieceKind.load(ps.s.db.WithContext(ctx), id)
}

// Create inserts a piece of an existing case. It is recorded as an upload.
func (ps *PieceStore) Create(ctx context.Context, p *model.Piece) error {
	var n int64
	if err := ps.s.db.WithContext(ctx).Model(&model.Case{}).Where("id = ?", p.CaseID).Count(&n).Error; err != nil {
		return fmt.Errorf("find case: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return pieceKind.create(ctx, ps.s, model.ActionUpload, p)
}

// Delete removes the piece row.
func (ps *PieceStore) Delete(ctx context.Context, id int64) (*model.Piece, error) {
	return pieceKind.delete(ctx, ps.s, id, nil)
}

// Label names a piece for audit descriptions.
func (ps *PieceStore) Label(ctx context.Context, id int64) (string, error) {
	var p model.Piece
	if err := ps.s.db.WithContext(ctx).Select("id", "file_name").First(&p, id).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("la pièce « %s »", p.FileName), nil
}
